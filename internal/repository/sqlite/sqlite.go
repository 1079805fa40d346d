// Package sqlite stores snapshots in a SQLite database, one row per table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// metaBucket holds the revision of the stored tables.
const metaBucket = "__meta"

// Repo implements repository.SnapshotRepository on a SQLite file.
type Repo struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

var _ repository.SnapshotRepository = (*Repo)(nil)

// New opens (creating if needed) the database at path.
func New(ctx context.Context, path string) (*Repo, error) {
	if path == "" {
		path = "clinic.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Repo{db: db, now: time.Now}, nil
}

// Load reassembles the stored tables.
func (r *Repo) Load(ctx context.Context) (*model.StoredSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string]json.RawMessage)
	var meta []byte
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if bucket == metaBucket {
			meta = payload
			continue
		}
		tables[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if meta == nil && len(tables) == 0 {
		return nil, fmt.Errorf("sqlite snapshot: %w", errs.ErrNotFound)
	}

	out := &model.StoredSnapshot{}
	if meta != nil {
		if err := json.Unmarshal(meta, &out.Revision); err != nil {
			return nil, fmt.Errorf("%w: revision: %w", errs.ErrMalformedSnapshot, err)
		}
	}
	if out.Document, err = storage.Assemble(tables); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrMalformedSnapshot, err)
	}
	if err := repository.Verify(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces every stored table in one transaction.
func (r *Repo) Save(ctx context.Context, doc storage.Snapshot) (rev model.Revision, err error) {
	tables, err := doc.Tables()
	if err != nil {
		return model.Revision{}, err
	}
	// digest the same canonical form Load reassembles
	canonical, err := storage.Assemble(tables)
	if err != nil {
		return model.Revision{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Revision{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	var prev model.Revision
	var meta []byte
	switch err = tx.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, metaBucket).Scan(&meta); {
	case err == nil:
		if err = json.Unmarshal(meta, &prev); err != nil {
			return model.Revision{}, fmt.Errorf("%w: revision: %w", errs.ErrMalformedSnapshot, err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return model.Revision{}, err
	}

	rev, err = repository.Stamp(canonical, prev.Ver+1, r.now())
	if err != nil {
		return model.Revision{}, err
	}
	if meta, err = json.Marshal(rev); err != nil {
		return model.Revision{}, err
	}
	tables[metaBucket] = meta

	if _, err = tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return model.Revision{}, err
	}
	const upsert = `INSERT INTO state(bucket, payload) VALUES(?, ?)
		ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`
	for bucket, payload := range tables {
		if _, err = tx.ExecContext(ctx, upsert, bucket, []byte(payload)); err != nil {
			return model.Revision{}, fmt.Errorf("persist %s: %w", bucket, err)
		}
	}
	return rev, nil
}

// Close closes the database.
func (r *Repo) Close() error { return r.db.Close() }
