// Package history stores recognised sound detections so that clients can
// query what was heard during past recording sessions.
//
// Two implementations are provided: [MemStore] keeps a bounded in-memory
// ring and is always available, while [PostgresStore] persists detections
// across restarts when a DSN is configured.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detection is a single recognised sound event.
type Detection struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Store persists detections. Implementations are safe for concurrent use.
type Store interface {
	// Append records a detection.
	Append(ctx context.Context, d Detection) error

	// Recent returns up to limit detections, newest first.
	Recent(ctx context.Context, limit int) ([]Detection, error)

	// Close releases any resources held by the store.
	Close() error
}
