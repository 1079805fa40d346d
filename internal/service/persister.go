package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/limiter"
	"github.com/and161185/clinic-keeper/internal/metrics"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

const finalFlushTimeout = 10 * time.Second

// Persister moves the store to and from a snapshot repository.
type Persister struct {
	store *Store
	repo  repository.SnapshotRepository
	lim   limiter.Limiter
	met   *metrics.Metrics
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex // serialises saves
	last model.Revision
}

// NewPersister constructs a persister. lim throttles RequestSave; met may be nil.
func NewPersister(store *Store, repo repository.SnapshotRepository, lim limiter.Limiter, met *metrics.Metrics, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{store: store, repo: repo, lim: lim, met: met, log: log, now: time.Now}
}

// Restore loads the latest snapshot. A missing snapshot leaves the store empty.
func (p *Persister) Restore(ctx context.Context) (model.Revision, error) {
	snap, err := p.repo.Load(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		p.log.Info("no snapshot, starting empty")
		return model.Revision{}, nil
	}
	if err != nil {
		return model.Revision{}, err
	}

	var stats map[string]int
	err = p.store.Do(func(db *model.DB) error {
		if err := db.Load(snap.Document); err != nil {
			return err
		}
		stats = db.Stats()
		return nil
	})
	if err != nil {
		return model.Revision{}, err
	}
	if p.met != nil {
		p.met.SetEntities(stats)
	}

	p.mu.Lock()
	p.last = snap.Revision
	p.mu.Unlock()
	p.log.Info("snapshot restored",
		zap.Stringer("revision", snap.ID),
		zap.Int64("ver", snap.Ver),
		zap.Any("entities", stats))
	return snap.Revision, nil
}

// Flush saves the store now.
func (p *Persister) Flush(ctx context.Context) (model.Revision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		doc   storage.Snapshot
		stats map[string]int
	)
	err := p.store.Do(func(db *model.DB) error {
		var err error
		doc, err = db.Save()
		stats = db.Stats()
		return err
	})
	if err != nil {
		return model.Revision{}, err
	}

	start := p.now()
	rev, err := p.repo.Save(ctx, doc)
	if p.met != nil {
		p.met.ObserveSave(p.now().Sub(start), start, err)
		p.met.SetEntities(stats)
	}
	if err != nil {
		p.log.Error("snapshot save failed", zap.Error(err))
		return model.Revision{}, err
	}
	p.last = rev
	p.log.Info("snapshot saved",
		zap.Stringer("revision", rev.ID),
		zap.Int64("ver", rev.Ver),
		zap.Int("bytes", len(doc)))
	return rev, nil
}

// RequestSave saves unless the limiter holds it back. It reports whether a save
// was attempted; after a failed save the next request is not throttled.
func (p *Persister) RequestSave(ctx context.Context) (bool, error) {
	now := p.now()
	if !p.lim.Allow(now) {
		p.log.Debug("save throttled", zap.Duration("retry_after", p.lim.RetryAfter(now)))
		return false, nil
	}
	if _, err := p.Flush(ctx); err != nil {
		// a failed save must not hold back the next request
		p.lim.Reset()
		return true, err
	}
	return true, nil
}

// Last returns the revision most recently restored or saved.
func (p *Persister) Last() model.Revision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Run saves every interval until ctx ends, then flushes once more.
func (p *Persister) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("autosave", zap.Error(err))
			}
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			defer cancel()
			_, err := p.Flush(fctx)
			return err
		}
	}
}
