package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nftreserve/models"
	"nftreserve/observability"
)

// Engine implements reservation and allocation against the backing store.
// It holds no in-process locks: the conditional claim update is the only
// synchronization mechanism, so any number of workers may share one Engine.
type Engine struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.Metrics
	nowFn   func() time.Time
}

// Config captures the dependencies required to construct an Engine.
type Config struct {
	DB      *gorm.DB
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// New builds a configured Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{db: cfg.DB, logger: logger, metrics: cfg.Metrics, nowFn: nowFn}
}

func (e *Engine) now() time.Time { return e.nowFn() }

// DB exposes the underlying handle for read-only collaborators.
func (e *Engine) DB() *gorm.DB { return e.db }

// CheckQuota rejects new reservations once a wallet's active holds (reserved
// and unexpired, under submit-error retry, in process, or already assigned)
// reach maxActive. Read-only.
func (e *Engine) CheckQuota(ctx context.Context, walletAddress string, maxActive int) error {
	now := e.now()
	var count int64
	err := e.db.WithContext(ctx).Model(&models.NFT{}).
		Where(
			"(reserved_to_wallet_address = ? AND reserved = ? AND (reserved_until > ? OR in_process = ? OR has_submit_error = ?)) OR assigned_to_wallet_address = ?",
			walletAddress, true, now, true, true, walletAddress,
		).
		Count(&count).Error
	if err != nil {
		return storeErr("count reservations", err)
	}
	if int(count) >= maxActive {
		if e.metrics != nil {
			e.metrics.QuotaRejections.Inc()
		}
		return ErrQuotaExceeded
	}
	return nil
}

// candidate carries the immutable identity needed to apply stage predicates
// before attempting a claim.
type candidate struct {
	ID       uuid.UUID
	Name     string
	MetaData models.Metadata
}

// Allocate claims up to count eligible items for the wallet, trying stages in
// priority order until one yields. The claim of each row is a single
// conditional UPDATE that re-checks availability, so two concurrent callers
// can never both win the same item.
func (e *Engine) Allocate(ctx context.Context, walletAddress string, stages []models.Stage, count int, reservedUntil time.Time, isMintBatch bool) ([]models.NFT, error) {
	if count < 1 {
		count = 1
	}
	now := e.now()
	rng := newWalletRand(walletAddress)
	e.logger.Debug("allocation seed", "wallet", walletAddress, "seed", WalletSeed(walletAddress))

	var candidates []candidate
	err := e.db.WithContext(ctx).Model(&models.NFT{}).
		Select("id", "name", "meta_data").
		Where("assigned = ? AND in_process = ? AND has_submit_error = ?", false, false, false).
		Where("reserved = ? OR reserved_until < ?", false, now).
		Order("id").
		Find(&candidates).Error
	if err != nil {
		return nil, storeErr("load candidates", err)
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for i := range stages {
		stage := &stages[i]
		claimed, err := e.claimFromStage(ctx, stage, candidates, walletAddress, count, reservedUntil, now, isMintBatch)
		if err != nil {
			return nil, err
		}
		if len(claimed) == 0 {
			continue
		}
		// Best effort: a failed tally never unwinds the claim.
		if err := e.RecordDraw(ctx, walletAddress, stage.ID, len(claimed)); err != nil {
			e.logger.Warn("stage draw tally failed", "wallet", walletAddress, "stage", stage.Code, "error", err)
		}
		if e.metrics != nil {
			e.metrics.Claims.WithLabelValues(stage.Code, "claimed").Add(float64(len(claimed)))
		}
		return claimed, nil
	}
	if e.metrics != nil {
		e.metrics.Claims.WithLabelValues("", "no_inventory").Inc()
	}
	return nil, ErrNoInventory
}

// claimFromStage walks the shuffled candidates matching the stage predicate
// and attempts the atomic claim on each until count items are won.
func (e *Engine) claimFromStage(ctx context.Context, stage *models.Stage, candidates []candidate, walletAddress string, count int, reservedUntil, now time.Time, isMintBatch bool) ([]models.NFT, error) {
	predicate := PredicateFor(stage)
	claimedIDs := make([]uuid.UUID, 0, count)
	for _, cand := range candidates {
		if len(claimedIDs) == count {
			break
		}
		if !predicate.Matches(cand.Name, cand.MetaData) {
			continue
		}
		res := e.db.WithContext(ctx).Model(&models.NFT{}).
			Where("id = ?", cand.ID).
			Where("assigned = ? AND in_process = ? AND has_submit_error = ?", false, false, false).
			Where("reserved = ? OR reserved_until < ?", false, now).
			Updates(map[string]interface{}{
				"reserved":                   true,
				"reserved_to_wallet_address": walletAddress,
				"reserved_until":             reservedUntil,
				"in_mint_run":                isMintBatch,
			})
		if res.Error != nil {
			return nil, storeErr("claim nft", res.Error)
		}
		if res.RowsAffected == 1 {
			claimedIDs = append(claimedIDs, cand.ID)
		}
		// RowsAffected == 0 means a concurrent claim won the row; move on.
	}
	if len(claimedIDs) == 0 {
		return nil, nil
	}
	var claimed []models.NFT
	if err := e.db.WithContext(ctx).Where("id IN ?", claimedIDs).Find(&claimed).Error; err != nil {
		return nil, storeErr("load claimed nfts", err)
	}
	return claimed, nil
}

// RecordDraw increments the wallet's reserved tally for a stage. The update
// is intentionally outside the claim: under partial failure the counter
// under-reports, which is acceptable for an advisory cap.
func (e *Engine) RecordDraw(ctx context.Context, walletAddress string, stageID uuid.UUID, amount int) error {
	res := e.db.WithContext(ctx).Model(&models.WalletStageAllocation{}).
		Where("wallet_address = ? AND stage_id = ?", walletAddress, stageID).
		Update("reserved_count", gorm.Expr("reserved_count + ?", amount))
	if res.Error != nil {
		return storeErr("record draw", res.Error)
	}
	if res.RowsAffected == 0 {
		// Default-stage draws have no pre-provisioned allocation row.
		row := models.WalletStageAllocation{
			ID:            uuid.New(),
			WalletAddress: walletAddress,
			StageID:       stageID,
			ReservedCount: amount,
		}
		if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
			return storeErr("record draw", err)
		}
	}
	return nil
}

// RecordAssigned increments the wallet's assigned tally for a stage once a
// mint is confirmed. Monotonic; never decremented.
func (e *Engine) RecordAssigned(ctx context.Context, walletAddress string, stageID uuid.UUID, amount int) error {
	res := e.db.WithContext(ctx).Model(&models.WalletStageAllocation{}).
		Where("wallet_address = ? AND stage_id = ?", walletAddress, stageID).
		Update("assigned_count", gorm.Expr("assigned_count + ?", amount))
	if res.Error != nil {
		return storeErr("record assigned", res.Error)
	}
	if res.RowsAffected == 0 {
		row := models.WalletStageAllocation{
			ID:            uuid.New(),
			WalletAddress: walletAddress,
			StageID:       stageID,
			AssignedCount: amount,
		}
		if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
			return storeErr("record assigned", err)
		}
	}
	return nil
}

// ReservationsForWallet lists the wallet's current and past holds. Items the
// wallet no longer holds come back with the reservation fields blanked.
func (e *Engine) ReservationsForWallet(ctx context.Context, walletAddress string) ([]models.NFT, error) {
	now := e.now()
	var rows []models.NFT
	err := e.db.WithContext(ctx).
		Where(
			"(reserved_to_wallet_address = ? AND reserved = ? AND reserved_until > ?) OR assigned_to_wallet_address = ?",
			walletAddress, true, now, walletAddress,
		).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("load wallet reservations", err)
	}
	return rows, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
