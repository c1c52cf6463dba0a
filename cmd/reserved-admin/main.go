package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nftreserve/auth"
	"nftreserve/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "seed":
		err = runSeed(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: reserved-admin <command> [flags]

commands:
  seed   load stages, allocations, and items from a YAML file
  sign   sign a payload file with a private key
  stats  print inventory lifecycle tallies`)
}

func openDB() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// seedFile is the operator-maintained drop definition.
type seedFile struct {
	Stages []struct {
		Code           string     `yaml:"code"`
		Name           string     `yaml:"name"`
		AttributeType  *string    `yaml:"attribute_type"`
		AttributeValue *string    `yaml:"attribute_value"`
		IsDefault      bool       `yaml:"is_default"`
		StageFree      bool       `yaml:"stage_free"`
		StageOpen      *time.Time `yaml:"stage_open"`
		StageClose     *time.Time `yaml:"stage_close"`
	} `yaml:"stages"`
	Allocations []struct {
		WalletAddress string `yaml:"wallet_address"`
		StageCode     string `yaml:"stage_code"`
		Count         int    `yaml:"count"`
	} `yaml:"allocations"`
	NFTs []struct {
		Name     string          `yaml:"name"`
		MetaData models.Metadata `yaml:"meta_data"`
	} `yaml:"nfts"`
}

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "path to the YAML seed file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	blob, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := yaml.Unmarshal(blob, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		stageIDs := make(map[string]uuid.UUID, len(seed.Stages))
		for _, s := range seed.Stages {
			stage := models.Stage{
				ID:             uuid.New(),
				Code:           s.Code,
				Name:           s.Name,
				AttributeType:  s.AttributeType,
				AttributeValue: s.AttributeValue,
				IsDefault:      s.IsDefault,
				StageFree:      s.StageFree,
				StageOpen:      s.StageOpen,
				StageClose:     s.StageClose,
			}
			var existing models.Stage
			err := tx.First(&existing, "code = ?", s.Code).Error
			switch {
			case err == nil:
				stage.ID = existing.ID
				if err := tx.Model(&existing).Updates(map[string]interface{}{
					"name":            s.Name,
					"attribute_type":  s.AttributeType,
					"attribute_value": s.AttributeValue,
					"is_default":      s.IsDefault,
					"stage_free":      s.StageFree,
					"stage_open":      s.StageOpen,
					"stage_close":     s.StageClose,
				}).Error; err != nil {
					return fmt.Errorf("update stage %s: %w", s.Code, err)
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&stage).Error; err != nil {
					return fmt.Errorf("create stage %s: %w", s.Code, err)
				}
			default:
				return err
			}
			stageIDs[s.Code] = stage.ID
		}

		for _, a := range seed.Allocations {
			stageID, ok := stageIDs[a.StageCode]
			if !ok {
				var stage models.Stage
				if err := tx.First(&stage, "code = ?", a.StageCode).Error; err != nil {
					return fmt.Errorf("allocation references unknown stage %s", a.StageCode)
				}
				stageID = stage.ID
			}
			var existing models.WalletStageAllocation
			err := tx.First(&existing, "wallet_address = ? AND stage_id = ?", a.WalletAddress, stageID).Error
			switch {
			case err == nil:
				if err := tx.Model(&existing).Update("allocation_count", a.Count).Error; err != nil {
					return fmt.Errorf("update allocation %s/%s: %w", a.WalletAddress, a.StageCode, err)
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				row := models.WalletStageAllocation{
					ID:              uuid.New(),
					WalletAddress:   a.WalletAddress,
					StageID:         stageID,
					AllocationCount: a.Count,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("create allocation %s/%s: %w", a.WalletAddress, a.StageCode, err)
				}
			default:
				return err
			}
		}

		for _, n := range seed.NFTs {
			if err := n.MetaData.Validate(); err != nil {
				return fmt.Errorf("nft %s: %w", n.Name, err)
			}
			var count int64
			if err := tx.Model(&models.NFT{}).Where("name = ?", n.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			nft := models.NFT{ID: uuid.New(), Name: n.Name, MetaData: n.MetaData}
			if err := tx.Create(&nft).Error; err != nil {
				return fmt.Errorf("create nft %s: %w", n.Name, err)
			}
		}
		return nil
	})
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex private key (defaults to $RESERVATION_SIGNING_KEY)")
	payload := fs.String("payload", "", "path to the payload file to sign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyHex == "" {
		*keyHex = os.Getenv("RESERVATION_SIGNING_KEY")
	}
	if *keyHex == "" {
		return fmt.Errorf("-key or RESERVATION_SIGNING_KEY is required")
	}
	if *payload == "" {
		return fmt.Errorf("-payload is required")
	}
	blob, err := os.ReadFile(*payload)
	if err != nil {
		return err
	}
	signer, err := auth.NewSignerFromHex(*keyHex)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(blob)
	if err != nil {
		return err
	}
	fmt.Println(sig)
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	ctx := context.Background()
	now := time.Now()

	counts := []struct {
		label string
		query *gorm.DB
	}{
		{"total", db.WithContext(ctx).Model(&models.NFT{})},
		{"assigned", db.WithContext(ctx).Model(&models.NFT{}).Where("assigned = ?", true)},
		{"reserved", db.WithContext(ctx).Model(&models.NFT{}).Where("reserved = ? AND assigned = ? AND reserved_until > ?", true, false, now)},
		{"in_process", db.WithContext(ctx).Model(&models.NFT{}).Where("in_process = ? AND assigned = ?", true, false)},
		{"submit_error", db.WithContext(ctx).Model(&models.NFT{}).Where("has_submit_error = ? AND assigned = ?", true, false)},
	}
	for _, c := range counts {
		var n int64
		if err := c.query.Count(&n).Error; err != nil {
			return err
		}
		fmt.Printf("%-14s %d\n", c.label, n)
	}
	return nil
}
