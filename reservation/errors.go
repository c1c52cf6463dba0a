package reservation

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Handlers map these onto HTTP status codes; the
// "no inventory" and "no stages" conditions share a user-facing message but
// stay distinct for telemetry.
var (
	ErrQuotaExceeded       = errors.New("reservation limit exceeded")
	ErrNoStagesOpen        = errors.New("no stages are currently open")
	ErrNoInventory         = errors.New("no NFTs available for reservation at this time")
	ErrNotReserved         = errors.New("NFT is not reserved")
	ErrNotReservedToWallet = errors.New("NFT is not reserved to wallet")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
)

// ValidationError marks caller-correctable input problems.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a backing-store failure. The underlying message is passed
// through opaquely and always logged at the boundary.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
