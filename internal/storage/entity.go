// Package storage is an in-memory relational object store: typed repositories of
// entities linked by relations with referential on-delete actions, persisted as one
// JSON document and restored in two phases (decode, then resolve back-references).
package storage

import "github.com/and161185/clinic-keeper/internal/ident"

// Entity is the contract of every stored object.
type Entity interface {
	// ID returns the identity assigned at construction.
	ID() ident.ID
	// Links lists every relation the entity owns, persisted or not.
	Links() []Link
	// ResolveRelations rebuilds the far side of the entity's forward relations.
	// It runs only in the second load phase and after explicit construction.
	ResolveRelations() error
}

// Base carries the identity of an entity. Embed it and override Links and
// ResolveRelations when the entity owns relations.
type Base struct {
	id ident.ID
}

// NewBase returns a base with the given identity.
func NewBase(id ident.ID) Base { return Base{id: id} }

// ID returns the entity identity.
func (b Base) ID() ident.ID { return b.id }

// Equal compares entities by identity.
func (b Base) Equal(other Entity) bool {
	return other != nil && b.id == other.ID()
}

// Links reports no relations.
func (Base) Links() []Link { return nil }

// ResolveRelations does nothing.
func (Base) ResolveRelations() error { return nil }

// Record returns the minimal persisted form of the entity.
func (b Base) Record() BaseRecord { return BaseRecord{ID: b.id} }

// BaseRecord is embedded by every persisted entity record.
type BaseRecord struct {
	ID ident.ID `json:"id"`
}
