package model

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-keeper/internal/storage"
)

// Revision describes one persisted snapshot.
type Revision struct {
	ID      uuid.UUID `json:"id"`       // unique per save
	Ver     int64     `json:"ver"`      // monotonically increasing where the backend supports it, else 0
	Digest  []byte    `json:"digest"`   // BLAKE2b-256 of the "db" object, nil if the backend keeps none
	SavedAt time.Time `json:"saved_at"` // UTC
}

// NewRevision stamps a save.
func NewRevision(ver int64, digest []byte, at time.Time) Revision {
	return Revision{ID: uuid.Must(uuid.NewV4()), Ver: ver, Digest: digest, SavedAt: at.UTC()}
}

// StoredSnapshot is a snapshot document together with its revision.
type StoredSnapshot struct {
	Revision
	Document storage.Snapshot
}
