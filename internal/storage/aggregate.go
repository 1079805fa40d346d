package storage

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
)

// Table is the kind-independent view of a repository.
type Table interface {
	Name() string
	Len() int
	Has(id ident.ID) bool
	Delete(id ident.ID) error
	Record(id ident.ID) (json.RawMessage, error)
	Encode() (json.RawMessage, error)
	Decode(raw json.RawMessage) error
	ResolveRelations() error
	Disable()
	Disabled() bool
	Reset()
}

// Aggregate owns the repositories persisted and restored together.
type Aggregate struct {
	tables []Table
	byName map[string]Table
	log    *zap.Logger
}

// NewAggregate groups tables. Load and Save visit them in the given order.
func NewAggregate(log *zap.Logger, tables ...Table) *Aggregate {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregate{byName: make(map[string]Table, len(tables)), log: log}
	for _, t := range tables {
		a.tables = append(a.tables, t)
		a.byName[t.Name()] = t
	}
	return a
}

// Tables returns the tables in registration order.
func (a *Aggregate) Tables() []Table { return a.tables }

// Table returns the table with the given name.
func (a *Aggregate) Table(name string) (Table, error) {
	t, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, errs.ErrNotFound)
	}
	return t, nil
}

// Decode is the first load phase: every table indexes its records.
func (a *Aggregate) Decode(snap Snapshot) error {
	for _, t := range a.tables {
		raw, err := snap.Table(t.Name())
		if err != nil {
			return err
		}
		if err := t.Decode(raw); err != nil {
			return err
		}
	}
	return nil
}

// ResolveRelations is the second load phase: every entity rebuilds its back-references.
func (a *Aggregate) ResolveRelations() error {
	for _, t := range a.tables {
		if err := t.ResolveRelations(); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the content of every table with the snapshot. On failure every
// table is left empty.
func (a *Aggregate) Load(snap Snapshot) error {
	a.Reset()
	if err := a.Decode(snap); err != nil {
		a.Reset()
		return err
	}
	if err := a.ResolveRelations(); err != nil {
		a.Reset()
		return err
	}
	a.log.Debug("aggregate loaded", zap.Any("tables", a.Stats()))
	return nil
}

// Save serialises every table into one snapshot.
func (a *Aggregate) Save() (Snapshot, error) {
	tables := make(map[string]json.RawMessage, len(a.tables))
	for _, t := range a.tables {
		raw, err := t.Encode()
		if err != nil {
			return nil, err
		}
		tables[t.Name()] = raw
	}
	return Assemble(tables)
}

// Reset empties every table without running referential actions.
func (a *Aggregate) Reset() {
	for _, t := range a.tables {
		t.Reset()
	}
}

// Teardown disables every table and drops all entities. The aggregate must not
// be used afterwards.
func (a *Aggregate) Teardown() {
	for _, t := range a.tables {
		t.Disable()
	}
	a.Reset()
}

// Stats returns the number of entities per table.
func (a *Aggregate) Stats() map[string]int {
	out := make(map[string]int, len(a.tables))
	for _, t := range a.tables {
		out[t.Name()] = t.Len()
	}
	return out
}
