// Package storage holds what the record store implementations share.
package storage

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("tracking record not found")
	ErrDuplicate = errors.New("tracking record already exists")
	// ErrStaleRecord is returned by Update when the stored version moved on since the record was loaded.
	ErrStaleRecord = errors.New("stale tracking record version")
)

// DelayedPage selects one page of the delayed-shipment scan, ordered by tracking id.
type DelayedPage struct {
	Now     time.Time
	AfterID string
	Limit   int
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

func (p DelayedPage) PageSize() int {
	if p.Limit <= 0 || p.Limit > MaxPageSize {
		return DefaultPageSize
	}
	return p.Limit
}
