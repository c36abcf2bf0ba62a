// Package store persists serialized state blobs under fixed keys.
package store

import (
	"context"
	"errors"
	"fmt"
)

const (
	OrdersKey     = "trading_orders"
	MilestonesKey = "portfolio_milestones"
	AccountKey    = "simulated_account"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrCorrupt  = errors.New("corrupted stored state")
)

// Store is a last-write-wins key-value store; there is no locking or versioning across writers.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s: key %q: %v", ErrCorrupt, e.Key, e.Err)
}

func (e *CorruptError) Unwrap() []error {
	return []error{ErrCorrupt, e.Err}
}

func Corrupt(key string, err error) error {
	return &CorruptError{Key: key, Err: err}
}
