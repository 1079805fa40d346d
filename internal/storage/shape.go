package storage

import "fmt"

// Shape is the cardinality of a relation seen from its owner.
// Values are persisted as integers and must keep their order.
type Shape int

const (
	// OneToOne holds exactly one target whose far side is single-valued too.
	OneToOne Shape = iota
	// OneToMany holds exactly one target whose far side is a BackToMany set.
	OneToMany
	// BackToMany is the multi-valued far side of OneToMany.
	BackToMany
	// ManyToMany holds a set of targets, each holding a set back.
	ManyToMany
)

// SingleValued reports whether the shape holds exactly one target id.
func (s Shape) SingleValued() bool { return s == OneToOne || s == OneToMany }

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool { return s >= OneToOne && s <= ManyToMany }

func (s Shape) String() string {
	switch s {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case BackToMany:
		return "back-to-many"
	case ManyToMany:
		return "many-to-many"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Action is the referential action run when the owner of a relation is deleted.
// Values are persisted as integers and must keep their order.
type Action int

const (
	// Cascade deletes the targets.
	Cascade Action = iota
	// SetNull detaches the owner from the targets' reciprocal relation.
	SetNull
	// Restrict refuses the delete while any target is linked.
	Restrict
	// NoAction leaves the targets untouched.
	NoAction
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a >= Cascade && a <= NoAction }

func (a Action) String() string {
	switch a {
	case Cascade:
		return "cascade"
	case SetNull:
		return "set-null"
	case Restrict:
		return "restrict"
	case NoAction:
		return "no-action"
	}
	return fmt.Sprintf("action(%d)", int(a))
}
