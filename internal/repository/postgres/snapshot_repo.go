package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// SnapshotRepo implements repository.SnapshotRepository with optimistic
// versioning: a save fails with errs.ErrVersionConflict when another writer
// saved since this repository last loaded or saved.
type SnapshotRepo struct {
	db   *DB
	keep int64
	now  func() time.Time

	mu      sync.Mutex
	baseVer int64
	known   bool
}

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

// NewSnapshotRepo constructs a snapshot repository keeping the last keep
// versions; keep <= 0 keeps everything.
func NewSnapshotRepo(db *DB, keep int) *SnapshotRepo {
	return &SnapshotRepo{db: db, keep: int64(keep), now: time.Now}
}

// Load returns the latest version.
func (r *SnapshotRepo) Load(ctx context.Context) (*model.StoredSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const q = `
SELECT ver, revision, digest, document, created_at
FROM snapshots ORDER BY ver DESC LIMIT 1`
	var (
		s   model.StoredSnapshot
		doc []byte
	)
	err := r.db.Pool.QueryRow(ctx, q).Scan(&s.Ver, &s.ID, &s.Digest, &doc, &s.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.baseVer, r.known = 0, true
		return nil, fmt.Errorf("postgres snapshot: %w", errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.Document = storage.Snapshot(doc)
	if err := repository.Verify(&s); err != nil {
		return nil, err
	}
	r.baseVer, r.known = s.Ver, true
	return &s, nil
}

// Save stores doc as the next version.
func (r *SnapshotRepo) Save(ctx context.Context, doc storage.Snapshot) (rev model.Revision, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := doc.Body(); err != nil {
		return model.Revision{}, err
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Revision{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
			return
		}
		r.baseVer, r.known = rev.Ver, true
	}()

	const sel = `SELECT ver FROM snapshot_head WHERE id=1 FOR UPDATE`
	const insHead = `INSERT INTO snapshot_head (id, ver) VALUES (1, $1)`
	const updHead = `UPDATE snapshot_head SET ver=$1 WHERE id=1`
	const ins = `INSERT INTO snapshots (ver, revision, digest, document, created_at) VALUES ($1,$2,$3,$4,$5)`
	const prune = `DELETE FROM snapshots WHERE ver <= $1`

	var curVer, newVer int64
	switch scanErr := tx.QueryRow(ctx, sel).Scan(&curVer); {
	case scanErr == nil:
		if r.known && curVer != r.baseVer {
			return model.Revision{}, fmt.Errorf("head %d, loaded %d: %w", curVer, r.baseVer, errs.ErrVersionConflict)
		}
		newVer = curVer + 1
		if _, err = tx.Exec(ctx, updHead, newVer); err != nil {
			return model.Revision{}, err
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		if r.known && r.baseVer != 0 {
			return model.Revision{}, fmt.Errorf("head missing, loaded %d: %w", r.baseVer, errs.ErrVersionConflict)
		}
		newVer = 1
		if _, err = tx.Exec(ctx, insHead, newVer); err != nil {
			if isUniqueViolation(err) {
				return model.Revision{}, errs.ErrVersionConflict
			}
			return model.Revision{}, err
		}
	default:
		return model.Revision{}, scanErr
	}

	if rev, err = repository.Stamp(doc, newVer, r.now()); err != nil {
		return model.Revision{}, err
	}
	if _, err = tx.Exec(ctx, ins, rev.Ver, rev.ID, rev.Digest, []byte(doc), rev.SavedAt); err != nil {
		return model.Revision{}, err
	}
	if r.keep > 0 && newVer > r.keep {
		if _, err = tx.Exec(ctx, prune, newVer-r.keep); err != nil {
			return model.Revision{}, err
		}
	}
	return rev, nil
}

// Close closes the pool.
func (r *SnapshotRepo) Close() error {
	r.db.Close()
	return nil
}
