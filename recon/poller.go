package recon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nftreserve/chainrpc"
	"nftreserve/mint"
	"nftreserve/reservation"
)

// OutcomeSource exposes the chain lookups the poller depends on.
type OutcomeSource interface {
	GetTxOutcome(ctx context.Context, txHash string) (*chainrpc.TxOutcome, error)
}

// PollerConfig captures the dependencies required to construct a Poller.
type PollerConfig struct {
	Tracker  *mint.Tracker
	Source   OutcomeSource
	Interval time.Duration
	Logger   *slog.Logger
}

// Poller periodically settles in-flight submissions against the chain. It
// carries the retry policy; the tracker itself never retries.
type Poller struct {
	tracker  *mint.Tracker
	source   OutcomeSource
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller builds a poller with sane defaults.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("recon: tracker is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("recon: outcome source is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{tracker: cfg.Tracker, source: cfg.Source, interval: interval, logger: logger}, nil
}

// Start runs the polling loop until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// RunOnce settles every in-flight submission it can. Outcomes already applied
// elsewhere are skipped silently; reconciliation is idempotent by
// construction.
func (p *Poller) RunOnce(ctx context.Context) error {
	hashes, err := p.tracker.InProcessHashes(ctx)
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		outcome, err := p.source.GetTxOutcome(ctx, hash)
		if err != nil {
			p.logger.Warn("tx lookup failed", "tx_hash", hash, "error", err)
			continue
		}
		if outcome.Pending() {
			continue
		}
		report := mint.TxReport{
			TxHash:        hash,
			Success:       outcome.Confirmed,
			WalletAddress: outcome.Sender,
			TokenID:       outcome.TokenID,
			Error:         outcome.Error,
			AssignedOn:    outcome.Timestamp,
		}
		err = p.tracker.ResolveTx(ctx, report)
		switch {
		case err == nil:
			p.logger.Info("settled submission", "tx_hash", hash, "confirmed", outcome.Confirmed)
		case errors.Is(err, reservation.ErrAlreadyProcessed), errors.Is(err, reservation.ErrNotFound):
			// Another path got there first.
		default:
			p.logger.Error("apply outcome failed", "tx_hash", hash, "error", err)
		}
	}
	return nil
}
