// Package ident hands out entity identities.
package ident

import (
	"strconv"
	"sync/atomic"
)

// ID identifies an entity within its kind. Zero means "no entity".
type ID uint64

// Null is the absent identity.
const Null ID = 0

// IsNull reports whether id refers to no entity.
func (id ID) IsNull() bool { return id == Null }

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Parse reads an identity from its decimal form.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Null, err
	}
	return ID(v), nil
}

// Allocator issues monotonically increasing identities. Safe for concurrent use.
type Allocator struct {
	last atomic.Uint64
}

// Default is the process-wide allocator.
var Default = New()

// New returns an allocator starting from zero.
func New() *Allocator { return &Allocator{} }

// Next returns an identity never issued or observed before.
func (a *Allocator) Next() ID {
	return ID(a.last.Add(1))
}

// Observe advances the counter to at least id without issuing it.
func (a *Allocator) Observe(id ID) {
	for {
		cur := a.last.Load()
		if uint64(id) <= cur {
			return
		}
		if a.last.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

// Current returns the last issued or observed identity.
func (a *Allocator) Current() ID { return ID(a.last.Load()) }
