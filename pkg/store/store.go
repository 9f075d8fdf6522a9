// Package store describes the collection-style data backend the chat layer
// talks to: named collections of records with filtered list, get, create,
// update and delete.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNotFound is returned when a record does not exist in a collection.
var ErrNotFound = errors.New("record not found")

// ErrInvalidQuery is returned for filters or sort keys the backend cannot run.
var ErrInvalidQuery = errors.New("invalid query")

// Record is one row of a collection keyed by field name.
type Record map[string]any

// ID returns the record's "id" field as int64, or 0 when absent.
func (r Record) ID() int64 {
	id, _ := ToInt64(r["id"])
	return id
}

// Query selects records from a collection.
//
// Sort entries are field names, prefixed with "-" for descending order.
// A zero Limit leaves the page size to the backend; -1 requests every match.
type Query struct {
	Filter Filter
	Fields []string
	Sort   []string
	Limit  int
	Offset int
}

// Store is a generic CRUD backend over named collections.
type Store interface {
	List(ctx context.Context, collection string, q Query) ([]Record, error)
	Get(ctx context.Context, collection string, id any, fields ...string) (Record, error)
	Create(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection string, id any, patch Record) (Record, error)
	Delete(ctx context.Context, collection string, id any) error
}

// Encode converts a json-tagged struct into a Record.
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Decode fills a json-tagged struct from a Record.
func Decode(rec Record, v any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// DecodeAll decodes every record into a new slice of T.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := Decode(rec, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ToInt64 converts the numeric shapes records carry (JSON numbers, driver
// integers, numeric strings) into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
