package reservation

import (
	"context"
	"strings"

	"nftreserve/models"
)

// promoStageCode is a legacy carve-out: one promotional stage whose items are
// matched by exact name rather than by attribute filter.
const promoStageCode = "bagel"

type predicateKind int

const (
	predicateUnrestricted predicateKind = iota
	predicateAttribute
	predicateExactName
)

// StagePredicate narrows the eligible pool for a stage. It is one of three
// variants: unrestricted, attribute filter, or exact name match.
type StagePredicate struct {
	kind           predicateKind
	attributeType  string
	attributeValue string
	name           string
}

// PredicateFor derives the eligibility predicate from stage configuration.
func PredicateFor(stage *models.Stage) StagePredicate {
	if strings.EqualFold(stage.Code, promoStageCode) {
		return StagePredicate{kind: predicateExactName, name: promoStageCode}
	}
	if stage.AttributeType != nil && *stage.AttributeType != "" {
		value := ""
		if stage.AttributeValue != nil {
			value = *stage.AttributeValue
		}
		return StagePredicate{kind: predicateAttribute, attributeType: *stage.AttributeType, attributeValue: value}
	}
	return StagePredicate{kind: predicateUnrestricted}
}

// Matches applies the stage predicate to an item's immutable identity. The
// mutable availability conditions are re-checked by the claim statement.
func (p StagePredicate) Matches(name string, meta models.Metadata) bool {
	switch p.kind {
	case predicateAttribute:
		return meta.HasAttribute(p.attributeType, p.attributeValue)
	case predicateExactName:
		return strings.EqualFold(name, p.name)
	default:
		return true
	}
}

// ResolveStages returns the stages a wallet may draw from, in priority order:
// open personal stages with remaining allocation first, then the open default
// stage as a guaranteed fallback. An empty result means no stage is open.
func (e *Engine) ResolveStages(ctx context.Context, walletAddress string) ([]models.Stage, error) {
	now := e.now()

	var stages []models.Stage
	if err := e.db.WithContext(ctx).Find(&stages).Error; err != nil {
		return nil, storeErr("load stages", err)
	}

	var allocations []models.WalletStageAllocation
	if err := e.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Find(&allocations).Error; err != nil {
		return nil, storeErr("load wallet allocations", err)
	}
	remaining := make(map[string]int, len(allocations))
	for _, alloc := range allocations {
		remaining[alloc.StageID.String()] = alloc.Remaining()
	}

	ordered := make([]models.Stage, 0, len(stages))
	var fallback *models.Stage
	for i := range stages {
		stage := stages[i]
		if !stage.OpenAt(now) {
			continue
		}
		if stage.IsDefault {
			fallback = &stages[i]
			continue
		}
		if remaining[stage.ID.String()] > 0 {
			ordered = append(ordered, stage)
		}
	}
	if fallback != nil {
		ordered = append(ordered, *fallback)
	}
	if len(ordered) == 0 {
		return nil, ErrNoStagesOpen
	}
	return ordered, nil
}

// OpenWalletsForStage lists wallets holding unexhausted allocations in the
// stage, used by the self-serve batch mint path.
func (e *Engine) OpenWalletsForStage(ctx context.Context, stageID string) ([]models.WalletStageAllocation, error) {
	var rows []models.WalletStageAllocation
	if err := e.db.WithContext(ctx).
		Where("stage_id = ? AND allocation_count > reserved_count + assigned_count", stageID).
		Find(&rows).Error; err != nil {
		return nil, storeErr("load stage wallets", err)
	}
	return rows, nil
}

// StageByCode fetches a single stage by its public code.
func (e *Engine) StageByCode(ctx context.Context, code string) (*models.Stage, error) {
	var stage models.Stage
	err := e.db.WithContext(ctx).First(&stage, "code = ?", code).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, storeErr("load stage", err)
	}
	return &stage, nil
}
