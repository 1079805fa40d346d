package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
)

// Record reads the fields of one persisted entity. Every accessor requires its
// field; the first missing or mistyped field is kept and reported by Err, later
// accessors return zero values.
type Record struct {
	table string
	res   gjson.Result
	id    ident.ID
	err   error
}

func newRecord(table string, res gjson.Result) *Record {
	r := &Record{table: table, res: res}
	if !res.IsObject() {
		r.failf("record is %s, want object", res.Type)
		return r
	}
	if v, ok := r.uintIn(res, "", "id"); ok {
		r.id = ident.ID(v)
	}
	return r
}

// ID returns the record identity.
func (r *Record) ID() ident.ID { return r.id }

// Err returns the first decoding failure, wrapping errs.ErrMalformedSnapshot.
func (r *Record) Err() error { return r.err }

func (r *Record) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s %d: %w", errs.ErrMalformedSnapshot, r.table, r.id, err)
	}
}

func (r *Record) failf(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s %d: %s", errs.ErrMalformedSnapshot, r.table, r.id, fmt.Sprintf(format, args...))
	}
}

func (r *Record) field(parent gjson.Result, prefix, key string, want gjson.Type) (gjson.Result, bool) {
	if r.err != nil {
		return gjson.Result{}, false
	}
	name := key
	if prefix != "" {
		name = prefix + "." + key
	}
	v := parent.Get(escapePath(key))
	if !v.Exists() {
		r.failf("missing field %q", name)
		return gjson.Result{}, false
	}
	if v.Type != want {
		r.failf("field %q is %s, want %s", name, v.Type, want)
		return gjson.Result{}, false
	}
	return v, true
}

func (r *Record) uintIn(parent gjson.Result, prefix, key string) (uint64, bool) {
	v, ok := r.field(parent, prefix, key, gjson.Number)
	if !ok {
		return 0, false
	}
	if v.Num < 0 || v.Num != float64(int64(v.Num)) {
		r.failf("field %q is not a non-negative integer", key)
		return 0, false
	}
	return v.Uint(), true
}

func (r *Record) idsIn(parent gjson.Result, prefix, key string) ([]ident.ID, bool) {
	if r.err != nil {
		return nil, false
	}
	v := parent.Get(key)
	if !v.IsArray() {
		r.failf("field %q of %s is not an array", key, prefix)
		return nil, false
	}
	ids := make([]ident.ID, 0)
	for _, el := range v.Array() {
		if el.Type != gjson.Number || el.Num < 0 || el.Num != float64(int64(el.Num)) {
			r.failf("field %q of %s holds %s", key, prefix, el.Raw)
			return nil, false
		}
		ids = append(ids, ident.ID(el.Uint()))
	}
	return ids, true
}

func (r *Record) object(key string) (gjson.Result, bool) {
	if r.err != nil {
		return gjson.Result{}, false
	}
	v := r.res.Get(escapePath(key))
	if !v.IsObject() {
		r.failf("field %q is missing or not an object", key)
		return gjson.Result{}, false
	}
	return v, true
}

// Int returns a required integer field.
func (r *Record) Int(key string) int64 {
	v, ok := r.field(r.res, "", key, gjson.Number)
	if !ok {
		return 0
	}
	if v.Num != float64(int64(v.Num)) {
		r.failf("field %q is not an integer", key)
		return 0
	}
	return v.Int()
}

// Int32 returns a required integer field that fits in 32 bits.
func (r *Record) Int32(key string) int32 {
	n := r.Int(key)
	if n < math.MinInt32 || n > math.MaxInt32 {
		r.failf("field %q is out of int32 range", key)
		return 0
	}
	return int32(n)
}

// Uint returns a required non-negative integer field.
func (r *Record) Uint(key string) uint64 {
	v, _ := r.uintIn(r.res, "", key)
	return v
}

// String returns a required string field.
func (r *Record) String(key string) string {
	v, ok := r.field(r.res, "", key, gjson.String)
	if !ok {
		return ""
	}
	return v.Str
}

// Raw returns a required field of any type as raw JSON.
func (r *Record) Raw(key string) json.RawMessage {
	if r.err != nil {
		return nil
	}
	v := r.res.Get(escapePath(key))
	if !v.Exists() {
		r.failf("missing field %q", key)
		return nil
	}
	return json.RawMessage(v.Raw)
}

// Unmarshal decodes a required field into dst.
func (r *Record) Unmarshal(key string, dst any) {
	raw := r.Raw(key)
	if raw == nil {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.fail(fmt.Errorf("field %q: %w", key, err))
	}
}

// escapePath quotes the gjson/sjson path metacharacters of a literal key.
func escapePath(key string) string {
	if !strings.ContainsAny(key, `.*?|#@\!=<>%:`) {
		return key
	}
	var b strings.Builder
	for _, c := range key {
		if strings.ContainsRune(`.*?|#@\!=<>%:`, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
