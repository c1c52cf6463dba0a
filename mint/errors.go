package mint

import (
	"errors"

	"gorm.io/gorm"

	"nftreserve/reservation"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func storeErr(op string, err error) error {
	return &reservation.StoreError{Op: op, Err: err}
}
