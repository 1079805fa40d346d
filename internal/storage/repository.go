package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
)

// Observer is notified about entity creation and removal, e.g. for metrics.
type Observer interface {
	EntityCreated(table string)
	EntityDeleted(table string, cascaded bool)
}

type nopObserver struct{}

func (nopObserver) EntityCreated(string)       {}
func (nopObserver) EntityDeleted(string, bool) {}

type options struct {
	log *zap.Logger
	obs Observer
}

// Option configures a repository.
type Option func(*options)

// WithLogger sets the logger used for cascade diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// DecodeFunc builds an entity from its persisted record. It reads forward data
// only; back-references are rebuilt later by ResolveRelations.
type DecodeFunc[T Entity] func(rec *Record) (T, error)

// Repository is the keyed store of one entity kind. It is not safe for
// concurrent use; callers serialise access.
type Repository[T Entity] struct {
	name     string
	alloc    *ident.Allocator
	decode   DecodeFunc[T]
	items    map[ident.ID]T
	disabled bool
	log      *zap.Logger
	obs      Observer
}

// NewRepository returns an empty repository named name.
func NewRepository[T Entity](name string, alloc *ident.Allocator, decode DecodeFunc[T], opts ...Option) *Repository[T] {
	o := options{log: zap.NewNop(), obs: nopObserver{}}
	for _, fn := range opts {
		fn(&o)
	}
	if alloc == nil {
		alloc = ident.Default
	}
	return &Repository[T]{
		name:   name,
		alloc:  alloc,
		decode: decode,
		items:  make(map[ident.ID]T),
		log:    o.log.With(zap.String("table", name)),
		obs:    o.obs,
	}
}

// Name returns the persisted table name.
func (r *Repository[T]) Name() string { return r.name }

// Create allocates a fresh identity, builds the entity with it and indexes it.
func (r *Repository[T]) Create(build func(id ident.ID) (T, error)) (T, error) {
	var zero T
	e, err := build(r.alloc.Next())
	if err != nil {
		return zero, err
	}
	if err := r.put(e); err != nil {
		return zero, err
	}
	return e, nil
}

func (r *Repository[T]) put(e T) error {
	id := e.ID()
	if id.IsNull() {
		return fmt.Errorf("%w: %s entity without identity", errs.ErrShapeViolation, r.name)
	}
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%s %d: %w", r.name, id, errs.ErrAlreadyExists)
	}
	r.alloc.Observe(id)
	r.items[id] = e
	r.obs.EntityCreated(r.name)
	return nil
}

func (r *Repository[T]) lookup(id ident.ID) (T, bool) {
	e, ok := r.items[id]
	return e, ok
}

// Get returns the entity with the given identity.
func (r *Repository[T]) Get(id ident.ID) (T, error) {
	e, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %d: %w", r.name, id, errs.ErrNotFound)
	}
	return e, nil
}

// Has reports whether an entity with the identity exists.
func (r *Repository[T]) Has(id ident.ID) bool {
	_, ok := r.items[id]
	return ok
}

// Len returns the number of entities.
func (r *Repository[T]) Len() int { return len(r.items) }

// All returns every entity in identity order.
func (r *Repository[T]) All() []T {
	ids := slices.Sorted(maps.Keys(r.items))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out
}

// Filter returns the entities matching pred in identity order.
func (r *Repository[T]) Filter(pred func(T) bool) []T {
	var out []T
	for _, e := range r.All() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entity in identity order matching pred.
func (r *Repository[T]) Find(pred func(T) bool) (T, bool) {
	for _, e := range r.All() {
		if pred(e) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Delete removes the entity and runs the on-delete action of every relation it
// owns. Restricting relations are checked across the whole cascade before
// anything changes, so a refused delete leaves the store untouched.
func (r *Repository[T]) Delete(id ident.ID) error {
	e, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", r.name, id, errs.ErrNotFound)
	}
	if r.disabled {
		delete(r.items, id)
		return nil
	}
	p := newRemoval()
	p.enter(r.name, id)
	if err := p.check(e); err != nil {
		return err
	}
	return r.remove(id, e, false)
}

func (r *Repository[T]) cascade(id ident.ID) error {
	e, ok := r.items[id]
	if !ok {
		return nil
	}
	if r.disabled {
		delete(r.items, id)
		return nil
	}
	r.log.Debug("cascade delete", zap.Uint64("id", uint64(id)))
	return r.remove(id, e, true)
}

func (r *Repository[T]) remove(id ident.ID, e T, cascaded bool) error {
	delete(r.items, id)
	r.obs.EntityDeleted(r.name, cascaded)
	var errList []error
	for _, l := range e.Links() {
		if err := l.onOwnerRemoved(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Disable suppresses referential actions targeting or owned by this kind.
func (r *Repository[T]) Disable() { r.disabled = true }

// Disabled reports whether referential actions are suppressed.
func (r *Repository[T]) Disabled() bool { return r.disabled }

// Reset drops every entity without running referential actions.
func (r *Repository[T]) Reset() { clear(r.items) }

// Record returns the persisted form of one entity.
func (r *Repository[T]) Record(id ident.ID) (json.RawMessage, error) {
	e, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Encode serialises the table as {"<id>": record}.
func (r *Repository[T]) Encode() (json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(r.items))
	for id, e := range r.items {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s %d: %w", r.name, id, err)
		}
		out[id.String()] = b
	}
	return json.Marshal(out)
}

// Decode indexes every record of a serialised table. Only forward relation data
// is read; call ResolveRelations once every table of the aggregate is decoded.
func (r *Repository[T]) Decode(raw json.RawMessage) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: %s: invalid json", errs.ErrMalformedSnapshot, r.name)
	}
	tbl := gjson.ParseBytes(raw)
	if !tbl.IsObject() {
		return fmt.Errorf("%w: %s: table is %s, want object", errs.ErrMalformedSnapshot, r.name, tbl.Type)
	}
	var err error
	tbl.ForEach(func(key, value gjson.Result) bool {
		err = r.decodeOne(key.String(), value)
		return err == nil
	})
	return err
}

func (r *Repository[T]) decodeOne(key string, value gjson.Result) error {
	id, err := ident.Parse(key)
	if err != nil || id.IsNull() {
		return fmt.Errorf("%w: %s: bad key %q", errs.ErrMalformedSnapshot, r.name, key)
	}
	rec := newRecord(r.name, value)
	if rec.Err() == nil && rec.ID() != id {
		rec.failf("key %s does not match id", key)
	}
	if err := rec.Err(); err != nil {
		return err
	}
	e, err := r.decode(rec)
	if err == nil {
		err = rec.Err()
	}
	if err != nil {
		return err
	}
	return r.put(e)
}

// ResolveRelations runs the second load phase for every entity.
func (r *Repository[T]) ResolveRelations() error {
	for _, e := range r.All() {
		if err := e.ResolveRelations(); err != nil {
			return fmt.Errorf("%s %d: %w", r.name, e.ID(), err)
		}
	}
	return nil
}

type removalKey struct {
	table string
	id    ident.ID
}

// removal walks the cascade closure of a delete before anything is mutated.
type removal struct {
	seen map[removalKey]struct{}
}

func newRemoval() *removal {
	return &removal{seen: make(map[removalKey]struct{})}
}

// enter marks the entity as visited and reports whether it was new.
func (p *removal) enter(table string, id ident.ID) bool {
	k := removalKey{table: table, id: id}
	if _, ok := p.seen[k]; ok {
		return false
	}
	p.seen[k] = struct{}{}
	return true
}

func (p *removal) check(e Entity) error {
	for _, l := range e.Links() {
		if err := l.checkRemoval(p); err != nil {
			return err
		}
	}
	return nil
}
