// Package repository defines snapshot storage implemented by concrete backends.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/clinic-keeper/internal/crypto"
	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// SnapshotRepository persists whole aggregate snapshots.
type SnapshotRepository interface {
	// Load returns the latest snapshot, errs.ErrNotFound if nothing was saved yet.
	Load(ctx context.Context) (*model.StoredSnapshot, error)
	// Save stores doc as the latest snapshot and returns its revision.
	Save(ctx context.Context, doc storage.Snapshot) (model.Revision, error)
	// Close releases the backend.
	Close() error
}

// Stamp validates doc and returns a fresh revision carrying its digest.
func Stamp(doc storage.Snapshot, ver int64, now time.Time) (model.Revision, error) {
	body, err := doc.Body()
	if err != nil {
		return model.Revision{}, err
	}
	return model.NewRevision(ver, crypto.Digest(body), now), nil
}

// Verify checks doc against the digest of its revision.
func Verify(s *model.StoredSnapshot) error {
	body, err := s.Document.Body()
	if err != nil {
		return err
	}
	if !crypto.VerifyDigest(body, s.Digest) {
		return fmt.Errorf("%w: digest mismatch for revision %s", errs.ErrMalformedSnapshot, s.ID)
	}
	return nil
}
