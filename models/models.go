package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NFT is one item in the drop inventory. Rows are mutated only by the
// allocation claim and the mint lifecycle transitions.
type NFT struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"index" json:"name"`

	MetaData Metadata `gorm:"type:text" json:"meta_data"`

	// Immutable asset payload captured at ingestion.
	SVG             string  `gorm:"type:text" json:"-"`
	IPFSImage       string  `json:"-"`
	IPFSMeta        string  `json:"-"`
	ImageData       *string `json:"-"`
	ExternalURL     *string `json:"-"`
	Description     *string `json:"-"`
	BackgroundColor *string `json:"-"`
	AnimationURL    *string `json:"-"`
	YoutubeURL      *string `json:"-"`

	Assigned                bool       `gorm:"index" json:"assigned"`
	Reserved                bool       `gorm:"index" json:"reserved"`
	ReservedToWalletAddress *string    `gorm:"index" json:"reserved_to_wallet_address,omitempty"`
	ReservedUntil           *time.Time `json:"reserved_until,omitempty"`
	InProcess               bool       `gorm:"index" json:"in_process"`
	InMintRun               bool       `json:"in_mint_run"`
	HasSubmitError          bool       `json:"has_submit_error"`
	TxHash                  *string    `gorm:"index" json:"tx_hash,omitempty"`
	SignedTx                *string    `json:"-"`
	TxError                 *string    `json:"tx_error,omitempty"`
	TxRetryCount            int        `json:"tx_retry_count"`
	AssignedToWalletAddress *string    `gorm:"index" json:"assigned_to_wallet_address,omitempty"`
	AssignedOn              *time.Time `json:"assigned_on,omitempty"`
	TokenID                 *string    `gorm:"index" json:"token_id,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// AvailableAt reports whether the item can be handed to a new wallet at the
// given instant. Expiry is computed at read time; an item under submit-error
// retry is never treated as expired.
func (n *NFT) AvailableAt(now time.Time) bool {
	if n.Assigned || n.InProcess || n.HasSubmitError {
		return false
	}
	if !n.Reserved {
		return true
	}
	return n.ReservedUntil != nil && n.ReservedUntil.Before(now)
}

// Stage is a whitelist tier. Configured out-of-band; read-only to the engine.
type Stage struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Code           string     `gorm:"uniqueIndex;size:64" json:"code"`
	Name           string     `json:"name"`
	AttributeType  *string    `json:"attribute_type,omitempty"`
	AttributeValue *string    `json:"attribute_value,omitempty"`
	IsDefault      bool       `json:"is_default"`
	StageFree      bool       `json:"stage_free"`
	StageOpen      *time.Time `json:"stage_open,omitempty"`
	StageClose     *time.Time `json:"stage_close,omitempty"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`
}

// OpenAt reports whether the stage accepts draws at the given instant.
func (s *Stage) OpenAt(now time.Time) bool {
	if s.StageOpen == nil || !s.StageOpen.Before(now) {
		return false
	}
	return s.StageClose == nil || s.StageClose.After(now)
}

// WalletStageAllocation caps how many items a wallet may draw from a stage.
// The counters are advisory tallies, not hard limits enforced by the store.
type WalletStageAllocation struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WalletAddress   string    `gorm:"uniqueIndex:idx_wallet_stage;size:64" json:"wallet_address"`
	StageID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_wallet_stage" json:"stage_id"`
	AllocationCount int       `json:"allocation_count"`
	ReservedCount   int       `json:"reserved_count"`
	AssignedCount   int       `json:"assigned_count"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

// Remaining returns the number of draws the wallet still has in this stage.
func (w *WalletStageAllocation) Remaining() int {
	return w.AllocationCount - w.ReservedCount - w.AssignedCount
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&NFT{},
		&Stage{},
		&WalletStageAllocation{},
	)
}
