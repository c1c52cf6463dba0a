package mint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nftreserve/models"
	"nftreserve/observability"
	"nftreserve/reservation"
)

// Tracker drives a claimed item through Reserved → InProcess → Assigned or
// SubmitError. Transitions run inside store transactions with row locks; the
// tracker itself keeps no state.
type Tracker struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.Metrics
	nowFn   func() time.Time
}

// Config captures the dependencies required to construct a Tracker.
type Config struct {
	DB      *gorm.DB
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// New builds a configured Tracker.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{db: cfg.DB, logger: logger, metrics: cfg.Metrics, nowFn: nowFn}
}

// TxReport is one reconciliation outcome for a submission identifier,
// produced externally from chain transaction receipts.
type TxReport struct {
	WalletAddress string
	TxHash        string
	Success       bool
	AssignedOn    time.Time
	TokenID       string
	Error         string
}

// ValidateHold checks that the item is still validly held by its wallet. An
// item under submit-error retry stays valid for its holder past expiry, so a
// stalled mint is not stolen mid-retry.
func (t *Tracker) ValidateHold(nft *models.NFT, walletAddress string) error {
	if !nft.Reserved {
		return reservation.ErrNotReserved
	}
	if nft.ReservedToWalletAddress == nil || *nft.ReservedToWalletAddress != walletAddress {
		return reservation.ErrNotReservedToWallet
	}
	if nft.HasSubmitError {
		t.logger.Info("reservation with error being retried", "nft", nft.ID, "reserved_until", nft.ReservedUntil)
		return nil
	}
	if nft.ReservedUntil == nil || nft.ReservedUntil.Before(t.nowFn()) {
		return reservation.ErrReservationExpired
	}
	return nil
}

// RecordTxHash records a pending transaction identifier against a reserved
// item, moving it Reserved → InProcess and counting the submission attempt.
func (t *Tracker) RecordTxHash(ctx context.Context, walletAddress string, nftID uuid.UUID, txHash string) error {
	return t.recordSubmission(ctx, walletAddress, nftID, map[string]interface{}{
		"tx_hash":        txHash,
		"in_process":     true,
		"tx_retry_count": gorm.Expr("tx_retry_count + 1"),
	})
}

// RecordSignedTx records a fully signed payload against a reserved item,
// moving it Reserved → InProcess and counting the submission attempt.
func (t *Tracker) RecordSignedTx(ctx context.Context, walletAddress string, nftID uuid.UUID, signedTx string) error {
	return t.recordSubmission(ctx, walletAddress, nftID, map[string]interface{}{
		"signed_tx":      signedTx,
		"in_process":     true,
		"tx_retry_count": gorm.Expr("tx_retry_count + 1"),
	})
}

func (t *Tracker) recordSubmission(ctx context.Context, walletAddress string, nftID uuid.UUID, updates map[string]interface{}) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nft models.NFT
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&nft, "id = ?", nftID).Error; err != nil {
			if isNotFound(err) {
				return reservation.ErrNotFound
			}
			return storeErr("load nft", err)
		}
		if err := t.ValidateHold(&nft, walletAddress); err != nil {
			return err
		}
		if err := tx.Model(&nft).Updates(updates).Error; err != nil {
			return storeErr("record submission", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.MintTransitions.WithLabelValues("in_process").Inc()
	}
	return nil
}

// ResolveTx applies a reconciliation outcome keyed by submission identifier.
// A success on an already-assigned item is reported as ErrAlreadyProcessed
// with no side effects, so replayed confirmations cannot double-assign.
func (t *Tracker) ResolveTx(ctx context.Context, report TxReport) error {
	state := "assigned"
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nft models.NFT
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&nft, "tx_hash = ?", report.TxHash).Error; err != nil {
			if isNotFound(err) {
				return reservation.ErrNotFound
			}
			return storeErr("load nft by tx", err)
		}
		if nft.Assigned {
			return reservation.ErrAlreadyProcessed
		}
		if report.Success {
			// An assigned item must name its owner. Fall back to the holder
			// when the report does not carry the sender.
			owner := strings.TrimSpace(report.WalletAddress)
			if owner == "" && nft.ReservedToWalletAddress != nil {
				owner = *nft.ReservedToWalletAddress
			}
			if owner == "" {
				return &reservation.ValidationError{Field: "wallet_address", Reason: "confirmed transaction has no owner"}
			}
			assignedOn := report.AssignedOn
			if assignedOn.IsZero() {
				assignedOn = t.nowFn()
			}
			updates := map[string]interface{}{
				"assigned":                   true,
				"reserved":                   false,
				"in_process":                 false,
				"has_submit_error":           false,
				"tx_error":                   nil,
				"assigned_to_wallet_address": owner,
				"assigned_on":                assignedOn,
				"token_id":                   report.TokenID,
			}
			if err := tx.Model(&nft).Updates(updates).Error; err != nil {
				return storeErr("assign nft", err)
			}
			return nil
		}
		state = "submit_error"
		// Keep reserved and in_process set: the same item is reused by the
		// holder's resubmission instead of falling back into the pool.
		updates := map[string]interface{}{
			"has_submit_error": true,
			"tx_error":         report.Error,
		}
		if err := tx.Model(&nft).Updates(updates).Error; err != nil {
			return storeErr("record submit error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.MintTransitions.WithLabelValues(state).Inc()
	}
	return nil
}

// AssignOwner marks the item reserved to the wallet with a matching name or
// token identifier as assigned. Bypass path for when the submission
// identifier link is unavailable.
func (t *Tracker) AssignOwner(ctx context.Context, walletAddress, tokenID string) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var matches []models.NFT
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reserved_to_wallet_address = ? AND assigned = ?", walletAddress, false).
			Where("name = ? OR token_id = ?", tokenID, tokenID).
			Find(&matches).Error
		if err != nil {
			return storeErr("load nft by token", err)
		}
		if len(matches) != 1 {
			return reservation.ErrNotFound
		}
		updates := map[string]interface{}{
			"assigned":                   true,
			"reserved":                   false,
			"in_process":                 false,
			"has_submit_error":           false,
			"tx_error":                   nil,
			"assigned_to_wallet_address": walletAddress,
			"assigned_on":                t.nowFn(),
			"token_id":                   tokenID,
		}
		if err := tx.Model(&matches[0]).Updates(updates).Error; err != nil {
			return storeErr("assign owner", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.MintTransitions.WithLabelValues("assigned").Inc()
	}
	return nil
}
