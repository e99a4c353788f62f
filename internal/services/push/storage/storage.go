// Package storage defines the persistence boundary for the push pipeline.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested checkpoint record is missing.
var ErrNotFound = errors.New("record not found")

// CheckpointStore durably records the last successfully handled feed
// position per stream. Saves are idempotent: persisting the same or an
// older position redundantly must leave the stored position unchanged.
type CheckpointStore interface {
	LoadPosition(ctx context.Context, stream string) (string, error)
	SavePosition(ctx context.Context, stream string, position string) error
}
