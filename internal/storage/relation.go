package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
)

// Link is the type-erased view of a relation, used by repositories to run
// referential actions without knowing the target kind.
type Link interface {
	Name() string
	Shape() Shape
	OnDelete() Action
	From() ident.ID
	Len() int
	TargetIDs() []ident.ID

	checkTargets() error
	checkRemoval(p *removal) error
	onOwnerRemoved() error
}

// Resolver rebuilds the far side of a relation.
type Resolver interface {
	Resolve() error
}

// Descriptor declares one relation field of an entity kind: its persisted name,
// shape, on-delete action and the accessor of the reciprocal relation on the target.
type Descriptor[F, T Entity] struct {
	Name       string
	Shape      Shape
	OnDelete   Action
	Reciprocal func(T) Relation[T, F]
}

func (d *Descriptor[F, T]) validate(from ident.ID, to []ident.ID) error {
	switch {
	case !d.Shape.Valid():
		return fmt.Errorf("%w: %s: unknown shape %d", errs.ErrShapeViolation, d.Name, int(d.Shape))
	case !d.OnDelete.Valid():
		return fmt.Errorf("%w: %s: unknown action %d", errs.ErrShapeViolation, d.Name, int(d.OnDelete))
	case from.IsNull():
		return fmt.Errorf("%w: %s: owner id is null", errs.ErrShapeViolation, d.Name)
	case d.Shape.SingleValued() && len(to) != 1:
		return fmt.Errorf("%w: %s: %s needs exactly one target, got %d", errs.ErrShapeViolation, d.Name, d.Shape, len(to))
	case d.Reciprocal == nil && d.OnDelete == SetNull:
		return fmt.Errorf("%w: %s: set-null needs a reciprocal", errs.ErrShapeViolation, d.Name)
	case d.Reciprocal == nil && d.OnDelete == Cascade && d.Shape != OneToOne:
		return fmt.Errorf("%w: %s: cascade on %s needs a reciprocal", errs.ErrShapeViolation, d.Name, d.Shape)
	}
	if !d.Shape.SingleValued() && slices.Contains(to, ident.Null) {
		return fmt.Errorf("%w: %s: %s cannot hold a null target", errs.ErrShapeViolation, d.Name, d.Shape)
	}
	return nil
}

// New builds a relation owned by from. Single-valued shapes take exactly one id
// (ident.Null for "none"); multi-valued shapes take any number of non-null ids.
func (d *Descriptor[F, T]) New(target *Repository[T], from ident.ID, to ...ident.ID) (Relation[F, T], error) {
	if target == nil {
		return Relation[F, T]{}, fmt.Errorf("%w: %s: no target repository", errs.ErrShapeViolation, d.Name)
	}
	if err := d.validate(from, to); err != nil {
		return Relation[F, T]{}, err
	}
	c := &relation[F, T]{desc: d, from: from, target: target}
	if d.Shape.SingleValued() {
		c.one = to[0]
	} else {
		c.set = make(map[ident.ID]struct{}, len(to))
		for _, id := range to {
			c.set[id] = struct{}{}
		}
	}
	return Relation[F, T]{c: c}, nil
}

// Empty builds a relation with no target: a null single target or an empty set.
func (d *Descriptor[F, T]) Empty(target *Repository[T], from ident.ID) (Relation[F, T], error) {
	if d.Shape.SingleValued() {
		return d.New(target, from, ident.Null)
	}
	return d.New(target, from)
}

// Decode reads the relation persisted under the descriptor name of rec.
// Failures are recorded on rec.
func (d *Descriptor[F, T]) Decode(rec *Record, target *Repository[T]) Relation[F, T] {
	sub, ok := rec.object(d.Name)
	if !ok {
		return Relation[F, T]{}
	}
	from, ok := rec.uintIn(sub, d.Name, "from")
	if !ok {
		return Relation[F, T]{}
	}
	rel, ok := rec.uintIn(sub, d.Name, "rel")
	if !ok {
		return Relation[F, T]{}
	}
	del, ok := rec.uintIn(sub, d.Name, "del")
	if !ok {
		return Relation[F, T]{}
	}
	to, ok := rec.idsIn(sub, d.Name, "to")
	if !ok {
		return Relation[F, T]{}
	}
	switch {
	case Shape(rel) != d.Shape:
		rec.failf("%s: stored shape %d, want %d", d.Name, rel, int(d.Shape))
		return Relation[F, T]{}
	case Action(del) != d.OnDelete:
		rec.failf("%s: stored action %d, want %d", d.Name, del, int(d.OnDelete))
		return Relation[F, T]{}
	case ident.ID(from) != rec.ID():
		rec.failf("%s: owner %d does not match record %d", d.Name, from, rec.ID())
		return Relation[F, T]{}
	}
	r, err := d.New(target, ident.ID(from), to...)
	if err != nil {
		rec.fail(err)
		return Relation[F, T]{}
	}
	return r
}

// NewRelation builds a relation without a package-level descriptor.
func NewRelation[F, T Entity](target *Repository[T], shape Shape, from ident.ID, to []ident.ID, onDelete Action, reciprocal func(T) Relation[T, F]) (Relation[F, T], error) {
	name := "relation"
	if target != nil {
		name = target.Name()
	}
	d := &Descriptor[F, T]{Name: name, Shape: shape, OnDelete: onDelete, Reciprocal: reciprocal}
	return d.New(target, from, to...)
}

type relation[F, T Entity] struct {
	desc   *Descriptor[F, T]
	from   ident.ID
	one    ident.ID
	set    map[ident.ID]struct{}
	target *Repository[T]
}

// Relation links an owner of kind F to targets of kind T. Copies share the same
// association data. The zero value is unbound: it reads as empty and rejects writes.
type Relation[F, T Entity] struct {
	c *relation[F, T]
}

// Bound reports whether the relation was constructed.
func (r Relation[F, T]) Bound() bool { return r.c != nil }

// Name returns the persisted field name.
func (r Relation[F, T]) Name() string {
	if r.c == nil {
		return ""
	}
	return r.c.desc.Name
}

// Shape returns the relation shape.
func (r Relation[F, T]) Shape() Shape {
	if r.c == nil {
		return OneToOne
	}
	return r.c.desc.Shape
}

// OnDelete returns the referential action.
func (r Relation[F, T]) OnDelete() Action {
	if r.c == nil {
		return NoAction
	}
	return r.c.desc.OnDelete
}

// From returns the owner identity.
func (r Relation[F, T]) From() ident.ID {
	if r.c == nil {
		return ident.Null
	}
	return r.c.from
}

// Len returns 1 for single-valued relations and the set size otherwise.
func (r Relation[F, T]) Len() int {
	switch {
	case r.c == nil:
		return 0
	case r.c.desc.Shape.SingleValued():
		return 1
	}
	return len(r.c.set)
}

// ID returns the target identity of a single-valued relation, ident.Null otherwise.
func (r Relation[F, T]) ID() ident.ID {
	if r.c == nil || !r.c.desc.Shape.SingleValued() {
		return ident.Null
	}
	return r.c.one
}

// IsNull reports whether the relation points nowhere.
func (r Relation[F, T]) IsNull() bool {
	if r.c == nil {
		return true
	}
	if r.c.desc.Shape.SingleValued() {
		return r.c.one.IsNull()
	}
	return len(r.c.set) == 0
}

// TargetIDs returns every stored target id in ascending order, including a null
// single target.
func (r Relation[F, T]) TargetIDs() []ident.ID {
	if r.c == nil {
		return nil
	}
	if r.c.desc.Shape.SingleValued() {
		return []ident.ID{r.c.one}
	}
	ids := make([]ident.ID, 0, len(r.c.set))
	for id := range r.c.set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r Relation[F, T]) linked() []ident.ID {
	ids := r.TargetIDs()
	return slices.DeleteFunc(ids, ident.ID.IsNull)
}

// Get returns the target of a single-valued relation.
func (r Relation[F, T]) Get() (T, error) {
	var zero T
	if r.c == nil {
		return zero, fmt.Errorf("unbound relation: %w", errs.ErrNotFound)
	}
	if !r.c.desc.Shape.SingleValued() {
		return zero, r.wrongShape("get")
	}
	if r.c.one.IsNull() {
		return zero, fmt.Errorf("%s of %d is null: %w", r.c.desc.Name, r.c.from, errs.ErrNotFound)
	}
	return r.c.target.Get(r.c.one)
}

// Has reports whether a multi-valued relation contains id.
func (r Relation[F, T]) Has(id ident.ID) (bool, error) {
	if r.c == nil {
		return false, nil
	}
	if r.c.desc.Shape.SingleValued() {
		return false, r.wrongShape("has")
	}
	_, ok := r.c.set[id]
	return ok, nil
}

// IDs returns the target ids of a multi-valued relation in ascending order.
func (r Relation[F, T]) IDs() ([]ident.ID, error) {
	if r.c != nil && r.c.desc.Shape.SingleValued() {
		return nil, r.wrongShape("ids")
	}
	return r.TargetIDs(), nil
}

// Targets returns the live targets of a multi-valued relation in id order.
func (r Relation[F, T]) Targets() ([]T, error) {
	ids, err := r.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.c.target.lookup(id); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// SetTarget points a single-valued relation at id. A one-to-many relation leaves
// the set of its previous target. With resolve it also registers on the new target.
func (r Relation[F, T]) SetTarget(id ident.ID, resolve bool) error {
	if r.c == nil {
		return fmt.Errorf("%w: unbound relation", errs.ErrShapeViolation)
	}
	c := r.c
	if !c.desc.Shape.SingleValued() {
		return r.wrongShape("set target")
	}
	if old := c.one; old != id && c.desc.Shape == OneToMany && c.desc.Reciprocal != nil && !old.IsNull() {
		if t, ok := c.target.lookup(old); ok {
			if err := c.desc.Reciprocal(t).Erase(c.from); err != nil {
				return err
			}
		}
	}
	c.one = id
	if resolve {
		return r.Resolve()
	}
	return nil
}

// SetNull clears a single-valued relation.
func (r Relation[F, T]) SetNull() error { return r.SetTarget(ident.Null, false) }

// Insert adds id to a multi-valued relation.
func (r Relation[F, T]) Insert(id ident.ID) error {
	if r.c == nil {
		return fmt.Errorf("%w: unbound relation", errs.ErrShapeViolation)
	}
	if r.c.desc.Shape.SingleValued() {
		return r.wrongShape("insert")
	}
	if id.IsNull() {
		return fmt.Errorf("%w: %s: insert of null id", errs.ErrShapeViolation, r.c.desc.Name)
	}
	r.c.set[id] = struct{}{}
	return nil
}

// Erase removes id from a multi-valued relation. Missing ids are ignored.
func (r Relation[F, T]) Erase(id ident.ID) error {
	if r.c == nil {
		return fmt.Errorf("%w: unbound relation", errs.ErrShapeViolation)
	}
	if r.c.desc.Shape.SingleValued() {
		return r.wrongShape("erase")
	}
	delete(r.c.set, id)
	return nil
}

// Resolve inserts the owner into the reciprocal set of every target.
// Only one-to-many and many-to-many relations resolve.
func (r Relation[F, T]) Resolve() error {
	if r.c == nil {
		return nil
	}
	c := r.c
	if c.desc.Shape != OneToMany && c.desc.Shape != ManyToMany {
		return r.wrongShape("resolve")
	}
	if c.desc.Reciprocal == nil {
		return fmt.Errorf("%w: %s: no reciprocal to resolve", errs.ErrShapeViolation, c.desc.Name)
	}
	for _, id := range r.linked() {
		t, err := c.target.Get(id)
		if err != nil {
			return fmt.Errorf("resolve %s of %d: %w", c.desc.Name, c.from, err)
		}
		if err := c.desc.Reciprocal(t).Insert(c.from); err != nil {
			return fmt.Errorf("resolve %s of %d: %w", c.desc.Name, c.from, err)
		}
	}
	return nil
}

func (r Relation[F, T]) checkTargets() error {
	if r.c == nil {
		return nil
	}
	for _, id := range r.linked() {
		if !r.c.target.Has(id) {
			return fmt.Errorf("%s: %s %d: %w", r.c.desc.Name, r.c.target.Name(), id, errs.ErrNotFound)
		}
	}
	return nil
}

func (r Relation[F, T]) restricted() error {
	if n := len(r.linked()); n > 0 {
		return fmt.Errorf("%w: %s of %d still references %d %s", errs.ErrIntegrityViolation,
			r.c.desc.Name, r.c.from, n, r.c.target.Name())
	}
	return nil
}

func (r Relation[F, T]) checkRemoval(p *removal) error {
	if r.c == nil || r.c.from.IsNull() || r.c.target.Disabled() {
		return nil
	}
	switch r.c.desc.OnDelete {
	case Restrict:
		return r.restricted()
	case Cascade:
		for _, id := range r.linked() {
			t, ok := r.c.target.lookup(id)
			if !ok || !p.enter(r.c.target.Name(), id) {
				continue
			}
			if err := p.check(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Relation[F, T]) onOwnerRemoved() error {
	c := r.c
	if c == nil || c.from.IsNull() || c.target.Disabled() {
		return nil
	}
	ids := r.linked()
	var errList []error
	switch c.desc.OnDelete {
	case Cascade:
		if c.desc.Shape == OneToMany || c.desc.Shape == ManyToMany {
			for _, id := range ids {
				if t, ok := c.target.lookup(id); ok {
					errList = append(errList, c.desc.Reciprocal(t).Erase(c.from))
				}
			}
		}
		for _, id := range ids {
			errList = append(errList, c.target.cascade(id))
		}
	case SetNull:
		for _, id := range ids {
			t, ok := c.target.lookup(id)
			if !ok {
				continue
			}
			back := c.desc.Reciprocal(t)
			if c.desc.Shape == OneToOne || c.desc.Shape == BackToMany {
				if back.ID() == c.from {
					errList = append(errList, back.SetNull())
				}
				continue
			}
			errList = append(errList, back.Erase(c.from))
		}
	case Restrict:
		errList = append(errList, r.restricted())
	}
	return errors.Join(errList...)
}

func (r Relation[F, T]) wrongShape(op string) error {
	return fmt.Errorf("%s on %s relation %s: %w", op, r.c.desc.Shape, r.c.desc.Name, errs.ErrWrongShape)
}

type relationRecord struct {
	From ident.ID   `json:"from"`
	To   []ident.ID `json:"to"`
	Rel  Shape      `json:"rel"`
	Del  Action     `json:"del"`
}

// MarshalJSON encodes the relation as {"from","to","rel","del"} with sorted targets.
func (r Relation[F, T]) MarshalJSON() ([]byte, error) {
	if r.c == nil {
		return nil, fmt.Errorf("%w: marshal of unbound relation", errs.ErrShapeViolation)
	}
	return json.Marshal(relationRecord{
		From: r.c.from,
		To:   r.TargetIDs(),
		Rel:  r.c.desc.Shape,
		Del:  r.c.desc.OnDelete,
	})
}

// ResolveAll resolves every relation in order and stops at the first failure.
func ResolveAll(rels ...Resolver) error {
	for _, r := range rels {
		if err := r.Resolve(); err != nil {
			return err
		}
	}
	return nil
}

// CheckTargets verifies that every non-null target of links exists.
func CheckTargets(links ...Link) error {
	for _, l := range links {
		if err := l.checkTargets(); err != nil {
			return err
		}
	}
	return nil
}
