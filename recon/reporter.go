package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"nftreserve/models"
)

// ReporterConfig captures the dependencies required to construct a Reporter.
type ReporterConfig struct {
	DB        *gorm.DB
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Reporter materialises the nightly reservation report: one row per item that
// is reserved, in process, errored, or assigned, grouped per stage file.
type Reporter struct {
	db        *gorm.DB
	outputDir string
	now       func() time.Time
	logger    *slog.Logger
}

// ReportRow summarises the lifecycle position of a single item.
type ReportRow struct {
	NFTID         string
	Name          string
	Stage         string
	WalletAddress string
	State         string
	ReservedUntil string
	TxHash        string
	TxRetryCount  int
	TxError       string
	TokenID       string
	AssignedOn    string
}

// ReportFile references the CSV and Parquet artefacts generated per stage.
type ReportFile struct {
	Stage       string
	CSVPath     string
	ParquetPath string
	Count       int
}

// NewReporter builds a configured reporter.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: db is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "reports"
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{db: cfg.DB, outputDir: outputDir, now: nowFn, logger: logger}, nil
}

// Run writes the report for the current inventory state and returns the
// generated files.
func (r *Reporter) Run(ctx context.Context) ([]ReportFile, error) {
	now := r.now()

	var stages []models.Stage
	if err := r.db.WithContext(ctx).Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("recon: load stages: %w", err)
	}
	stageByWallet, err := r.stageIndex(ctx, stages)
	if err != nil {
		return nil, err
	}

	var nfts []models.NFT
	err = r.db.WithContext(ctx).
		Where("reserved = ? OR in_process = ? OR has_submit_error = ? OR assigned = ?", true, true, true, true).
		Order("name").
		Find(&nfts).Error
	if err != nil {
		return nil, fmt.Errorf("recon: load nfts: %w", err)
	}

	grouped := make(map[string][]ReportRow)
	for i := range nfts {
		row := buildRow(&nfts[i], stageByWallet)
		grouped[row.Stage] = append(grouped[row.Stage], row)
	}

	runDir := filepath.Join(r.outputDir, now.Format("20060102"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: ensure output dir: %w", err)
	}

	files := make([]ReportFile, 0, len(grouped))
	for stage, rows := range grouped {
		name := stage
		if name == "" {
			name = "unstaged"
		}
		csvPath := filepath.Join(runDir, name+".csv")
		if err := writeCSV(csvPath, rows); err != nil {
			return nil, err
		}
		parquetPath := filepath.Join(runDir, name+".parquet")
		if err := writeParquet(parquetPath, rows); err != nil {
			return nil, err
		}
		r.logger.Info("wrote stage report", "stage", name, "rows", len(rows), "csv", csvPath, "parquet", parquetPath)
		files = append(files, ReportFile{Stage: name, CSVPath: csvPath, ParquetPath: parquetPath, Count: len(rows)})
	}
	return files, nil
}

// stageIndex maps wallet addresses to the code of a stage they hold
// allocation in. Wallets drawing only from the default stage map to its code.
func (r *Reporter) stageIndex(ctx context.Context, stages []models.Stage) (map[string]string, error) {
	codeByID := make(map[string]string, len(stages))
	defaultCode := ""
	for _, stage := range stages {
		codeByID[stage.ID.String()] = stage.Code
		if stage.IsDefault {
			defaultCode = stage.Code
		}
	}
	var allocations []models.WalletStageAllocation
	if err := r.db.WithContext(ctx).Find(&allocations).Error; err != nil {
		return nil, fmt.Errorf("recon: load allocations: %w", err)
	}
	index := make(map[string]string, len(allocations))
	for _, alloc := range allocations {
		code := codeByID[alloc.StageID.String()]
		if code == "" {
			continue
		}
		// Personal stages win over the default when a wallet appears in both.
		if existing, ok := index[alloc.WalletAddress]; ok && existing != defaultCode {
			continue
		}
		index[alloc.WalletAddress] = code
	}
	return index, nil
}

func buildRow(nft *models.NFT, stageByWallet map[string]string) ReportRow {
	row := ReportRow{
		NFTID:        nft.ID.String(),
		Name:         nft.Name,
		TxRetryCount: nft.TxRetryCount,
	}
	wallet := ""
	switch {
	case nft.Assigned:
		row.State = "assigned"
		if nft.AssignedToWalletAddress != nil {
			wallet = *nft.AssignedToWalletAddress
		}
		if nft.AssignedOn != nil {
			row.AssignedOn = nft.AssignedOn.Format(time.RFC3339)
		}
		if nft.TokenID != nil {
			row.TokenID = *nft.TokenID
		}
	case nft.HasSubmitError:
		row.State = "submit_error"
		if nft.TxError != nil {
			row.TxError = *nft.TxError
		}
	case nft.InProcess:
		row.State = "in_process"
	default:
		row.State = "reserved"
	}
	if wallet == "" && nft.ReservedToWalletAddress != nil {
		wallet = *nft.ReservedToWalletAddress
	}
	row.WalletAddress = wallet
	row.Stage = stageByWallet[wallet]
	if nft.ReservedUntil != nil {
		row.ReservedUntil = nft.ReservedUntil.Format(time.RFC3339)
	}
	if nft.TxHash != nil {
		row.TxHash = *nft.TxHash
	}
	return row
}

func writeCSV(path string, rows []ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"nft_id", "name", "stage", "wallet_address", "state", "reserved_until",
		"tx_hash", "tx_retry_count", "tx_error", "token_id", "assigned_on",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.NFTID,
			row.Name,
			row.Stage,
			row.WalletAddress,
			row.State,
			row.ReservedUntil,
			row.TxHash,
			fmt.Sprintf("%d", row.TxRetryCount),
			row.TxError,
			row.TokenID,
			row.AssignedOn,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	NFTID         string `parquet:"name=nft_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name          string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stage         string `parquet:"name=stage, type=BYTE_ARRAY, convertedtype=UTF8"`
	WalletAddress string `parquet:"name=wallet_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	State         string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReservedUntil string `parquet:"name=reserved_until, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxHash        string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxRetryCount  int32  `parquet:"name=tx_retry_count, type=INT32"`
	TxError       string `parquet:"name=tx_error, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenID       string `parquet:"name=token_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssignedOn    string `parquet:"name=assigned_on, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			NFTID:         row.NFTID,
			Name:          row.Name,
			Stage:         row.Stage,
			WalletAddress: row.WalletAddress,
			State:         row.State,
			ReservedUntil: row.ReservedUntil,
			TxHash:        row.TxHash,
			TxRetryCount:  int32(row.TxRetryCount),
			TxError:       row.TxError,
			TokenID:       row.TokenID,
			AssignedOn:    row.AssignedOn,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
