// Package file stores snapshots as a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/and161185/clinic-keeper/internal/crypto"
	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// revKey holds the revision next to the "db" object. Files without it, such as
// databases written by older bots, load without digest verification.
const revKey = "rev"

var sealAAD = []byte("clinic-keeper/file")

// Repo implements repository.SnapshotRepository on a file path.
type Repo struct {
	path   string
	sealer *crypto.Sealer
	now    func() time.Time
}

var _ repository.SnapshotRepository = (*Repo)(nil)

// Option configures a Repo.
type Option func(*Repo)

// WithSealer encrypts saved files; sealed files cannot be loaded without it.
func WithSealer(s *crypto.Sealer) Option { return func(r *Repo) { r.sealer = s } }

// WithClock overrides the save timestamp source.
func WithClock(now func() time.Time) Option { return func(r *Repo) { r.now = now } }

// New returns a repository writing to path, creating its directory.
func New(path string, opts ...Option) (*Repo, error) {
	if path == "" {
		return nil, errors.New("file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	r := &Repo{path: path, now: time.Now}
	for _, fn := range opts {
		fn(r)
	}
	return r, nil
}

// Load reads and verifies the file.
func (r *Repo) Load(_ context.Context) (*model.StoredSnapshot, error) {
	b, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", r.path, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if crypto.IsSealed(b) {
		if r.sealer == nil {
			return nil, fmt.Errorf("%w: %s is sealed, passphrase required", errs.ErrMalformedSnapshot, r.path)
		}
		if b, err = r.sealer.Open(b, sealAAD); err != nil {
			return nil, err
		}
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: %s: invalid json", errs.ErrMalformedSnapshot, r.path)
	}

	out := &model.StoredSnapshot{}
	if rev := gjson.GetBytes(b, revKey); rev.Exists() {
		if err := json.Unmarshal([]byte(rev.Raw), &out.Revision); err != nil {
			return nil, fmt.Errorf("%w: %s: revision: %w", errs.ErrMalformedSnapshot, r.path, err)
		}
		if b, err = sjson.DeleteBytes(b, revKey); err != nil {
			return nil, err
		}
	}
	out.Document = storage.Snapshot(b)
	if err := repository.Verify(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces the file atomically.
func (r *Repo) Save(_ context.Context, doc storage.Snapshot) (model.Revision, error) {
	rev, err := repository.Stamp(doc, 0, r.now())
	if err != nil {
		return model.Revision{}, err
	}
	b, err := sjson.SetBytes(doc, revKey, rev)
	if err != nil {
		return model.Revision{}, err
	}
	if r.sealer != nil {
		if b, err = r.sealer.Seal(b, sealAAD); err != nil {
			return model.Revision{}, err
		}
	}
	if err := writeAtomic(r.path, b); err != nil {
		return model.Revision{}, err
	}
	return rev, nil
}

// Close is a no-op.
func (r *Repo) Close() error { return nil }

func writeAtomic(path string, b []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
