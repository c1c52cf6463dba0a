package mint

import (
	"context"

	"nftreserve/models"
)

// InProcessHashes lists the transaction identifiers currently awaiting
// settlement, for the reconciliation poller and the triage feed.
func (t *Tracker) InProcessHashes(ctx context.Context) ([]string, error) {
	var hashes []string
	err := t.db.WithContext(ctx).Model(&models.NFT{}).
		Where("in_process = ? AND assigned = ? AND tx_hash IS NOT NULL", true, false).
		Pluck("tx_hash", &hashes).Error
	if err != nil {
		return nil, storeErr("list in-process hashes", err)
	}
	return hashes, nil
}

// InMintProcess lists mint-run items with a submission in flight.
func (t *Tracker) InMintProcess(ctx context.Context) ([]models.NFT, error) {
	var rows []models.NFT
	err := t.db.WithContext(ctx).
		Where("in_mint_run = ? AND in_process = ? AND assigned = ?", true, true, false).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list in-mint-process", err)
	}
	return rows, nil
}

// InMintReserved lists mint-run items claimed but not yet submitted.
func (t *Tracker) InMintReserved(ctx context.Context) ([]models.NFT, error) {
	var rows []models.NFT
	err := t.db.WithContext(ctx).
		Where("in_mint_run = ? AND reserved = ? AND in_process = ? AND assigned = ?", true, true, false, false).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list in-mint-reserved", err)
	}
	return rows, nil
}

// StuckInMintProcess lists mint-run items whose submission has outlived the
// reservation window without settling. These need operator attention.
func (t *Tracker) StuckInMintProcess(ctx context.Context) ([]models.NFT, error) {
	var rows []models.NFT
	err := t.db.WithContext(ctx).
		Where("in_mint_run = ? AND in_process = ? AND assigned = ? AND reserved_until < ?", true, true, false, t.nowFn()).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list stuck-mint-process", err)
	}
	return rows, nil
}
