package config

import (
	"database/sql"
	"errors"

	"github.com/faucetdb/adminguard/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = model.ErrNotFound

// storeErr maps driver errors onto the shared error taxonomy: a missing row
// becomes ErrNotFound and everything else a *model.StoreError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return &model.StoreError{Op: op, Err: err}
}
