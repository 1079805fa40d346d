// Package convert maps store records and revisions to the protobuf well-known
// types carried by the admin API.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/clinic-keeper/internal/ident"
	model "github.com/and161185/clinic-keeper/internal/model"
)

// --- records ---

// ToProtoRecord wraps an encoded entity record.
func ToProtoRecord(raw json.RawMessage) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return s, nil
}

// FromProtoRecord returns the JSON form of a record.
func FromProtoRecord(s *structpb.Struct) (json.RawMessage, error) {
	if s == nil {
		return nil, fmt.Errorf("nil record")
	}
	return s.MarshalJSON()
}

// --- entity references ---

// EntityRef names one entity of one table.
type EntityRef struct {
	Table string
	ID    ident.ID
}

// ToProtoEntityRef encodes a reference as {"table": ..., "id": ...}.
func ToProtoEntityRef(ref EntityRef) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"table": structpb.NewStringValue(ref.Table),
		"id":    structpb.NewStringValue(ref.ID.String()),
	}}
}

// FromProtoEntityRef decodes a reference; the id may be a number or a decimal string.
func FromProtoEntityRef(s *structpb.Struct) (EntityRef, error) {
	if s == nil {
		return EntityRef{}, fmt.Errorf("nil entity ref")
	}
	table := s.GetFields()["table"].GetStringValue()
	if table == "" {
		return EntityRef{}, fmt.Errorf("missing table")
	}
	v, ok := s.GetFields()["id"]
	if !ok {
		return EntityRef{}, fmt.Errorf("missing id")
	}
	var id ident.ID
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		parsed, err := ident.Parse(k.StringValue)
		if err != nil {
			return EntityRef{}, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n < 0 || n != math.Trunc(n) || n > 1<<53 {
			return EntityRef{}, fmt.Errorf("invalid id %v", n)
		}
		id = ident.ID(n)
	default:
		return EntityRef{}, fmt.Errorf("invalid id type")
	}
	if id.IsNull() {
		return EntityRef{}, fmt.Errorf("null id")
	}
	return EntityRef{Table: table, ID: id}, nil
}

// --- revisions ---

// ToProtoRevision encodes a snapshot revision.
func ToProtoRevision(r model.Revision) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"ver":    structpb.NewNumberValue(float64(r.Ver)),
		"digest": structpb.NewStringValue(fmt.Sprintf("%x", r.Digest)),
	}
	if !nilRevision(r) {
		fields["revision"] = structpb.NewStringValue(r.ID.String())
	}
	if !r.SavedAt.IsZero() {
		fields["saved_at"] = structpb.NewStringValue(r.SavedAt.UTC().Format(time.RFC3339Nano))
	}
	return &structpb.Struct{Fields: fields}
}

// FromProtoRevision decodes a revision; the digest is not carried back.
func FromProtoRevision(s *structpb.Struct) (model.Revision, error) {
	if s == nil {
		return model.Revision{}, fmt.Errorf("nil revision")
	}
	f := s.GetFields()
	var r model.Revision
	if id := f["revision"].GetStringValue(); id != "" {
		if err := r.ID.UnmarshalText([]byte(id)); err != nil {
			return model.Revision{}, fmt.Errorf("invalid revision: %w", err)
		}
	}
	r.Ver = int64(f["ver"].GetNumberValue())
	if at := f["saved_at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return model.Revision{}, fmt.Errorf("invalid saved_at: %w", err)
		}
		r.SavedAt = t
	}
	return r, nil
}

// --- stats ---

// ToProtoStats encodes per-table counts together with the current revision.
func ToProtoStats(tables map[string]int, rev model.Revision) *structpb.Struct {
	counts := make(map[string]*structpb.Value, len(tables))
	for name, n := range tables {
		counts[name] = structpb.NewNumberValue(float64(n))
	}
	s := ToProtoRevision(rev)
	s.Fields["tables"] = structpb.NewStructValue(&structpb.Struct{Fields: counts})
	return s
}

// FromProtoStats decodes per-table counts.
func FromProtoStats(s *structpb.Struct) (map[string]int, model.Revision, error) {
	rev, err := FromProtoRevision(s)
	if err != nil {
		return nil, model.Revision{}, err
	}
	out := make(map[string]int)
	for name, v := range s.GetFields()["tables"].GetStructValue().GetFields() {
		out[name] = int(v.GetNumberValue())
	}
	return out, rev, nil
}

// nilRevision reports whether r was never stamped.
func nilRevision(r model.Revision) bool { return r.ID == u.Nil }
