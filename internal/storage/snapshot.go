package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/and161185/clinic-keeper/internal/errs"
)

// rootKey wraps every table of a persisted document.
const rootKey = "db"

// Snapshot is a persisted aggregate: {"db": {"<table>": {"<id>": record}}}.
type Snapshot []byte

// Assemble builds a snapshot from encoded tables. Tables are written in name order.
func Assemble(tables map[string]json.RawMessage) (Snapshot, error) {
	doc := []byte(`{"` + rootKey + `":{}}`)
	for _, name := range slices.Sorted(maps.Keys(tables)) {
		var err error
		doc, err = sjson.SetRawBytes(doc, rootKey+"."+escapePath(name), tables[name])
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", name, err)
		}
	}
	return Snapshot(doc), nil
}

func (s Snapshot) root() (gjson.Result, error) {
	if !gjson.ValidBytes(s) {
		return gjson.Result{}, fmt.Errorf("%w: invalid json", errs.ErrMalformedSnapshot)
	}
	db := gjson.GetBytes(s, rootKey)
	if !db.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: missing %q object", errs.ErrMalformedSnapshot, rootKey)
	}
	return db, nil
}

// Body returns the raw "db" object. Snapshot digests are computed over it so
// that backends may store extra keys next to it.
func (s Snapshot) Body() ([]byte, error) {
	db, err := s.root()
	if err != nil {
		return nil, err
	}
	return []byte(db.Raw), nil
}

// Tables splits the snapshot into its encoded tables.
func (s Snapshot) Tables() (map[string]json.RawMessage, error) {
	db, err := s.root()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	db.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	return out, nil
}

// Table returns one encoded table.
func (s Snapshot) Table(name string) (json.RawMessage, error) {
	db, err := s.root()
	if err != nil {
		return nil, err
	}
	v := db.Get(escapePath(name))
	if !v.Exists() {
		return nil, fmt.Errorf("%w: missing table %q", errs.ErrMalformedSnapshot, name)
	}
	return json.RawMessage(v.Raw), nil
}

// Counts returns the number of records per table without decoding them.
func (s Snapshot) Counts() (map[string]int, error) {
	db, err := s.root()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	db.ForEach(func(key, value gjson.Result) bool {
		n := 0
		value.ForEach(func(_, _ gjson.Result) bool {
			n++
			return true
		})
		out[key.String()] = n
		return true
	})
	return out, nil
}
