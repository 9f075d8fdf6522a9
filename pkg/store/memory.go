package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. Records without an id get the next
// integer id of their collection.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	seq   int64
	order []string
	rows  map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{rows: make(map[string]Record)}
		s.collections[name] = c
	}
	return c
}

func keyOf(id any) string {
	if n, ok := ToInt64(id); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(id)
}

// List filters, sorts and pages a copy of the collection.
func (s *MemoryStore) List(_ context.Context, collection string, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []Record{}, nil
	}

	matched := make([]Record, 0, len(c.order))
	for _, key := range c.order {
		if rec := c.rows[key]; q.Filter.Match(rec) {
			matched = append(matched, rec)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], q.Sort)
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	out := make([]Record, len(matched))
	for i, rec := range matched {
		out[i] = project(rec, q.Fields)
	}
	return out, nil
}

func less(a, b Record, sortFields []string) bool {
	for _, field := range sortFields {
		desc := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		c, ok := Compare(a[field], b[field])
		if !ok || c == 0 {
			continue
		}
		if desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func project(rec Record, fields []string) Record {
	out := make(Record, len(rec))
	if len(fields) == 0 {
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	for _, f := range fields {
		if f == "*" {
			return project(rec, nil)
		}
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Get returns a copy of one record or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, collection string, id any, fields ...string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := c.rows[keyOf(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return project(rec, fields), nil
}

// Create stores rec, assigning the next integer id when it has none.
func (s *MemoryStore) Create(_ context.Context, collection string, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	row := project(rec, nil)
	if id, ok := row["id"]; ok && id != nil {
		if n, isNum := ToInt64(id); isNum && n == 0 {
			delete(row, "id")
		}
	}
	if id, ok := row["id"]; !ok || id == nil {
		c.seq++
		row["id"] = c.seq
	} else if n, isNum := ToInt64(id); isNum && n > c.seq {
		c.seq = n
	}

	key := keyOf(row["id"])
	if _, exists := c.rows[key]; exists {
		return nil, fmt.Errorf("%s: duplicate id %s", collection, key)
	}
	c.rows[key] = row
	c.order = append(c.order, key)
	return project(row, nil), nil
}

// Update merges patch into an existing record.
func (s *MemoryStore) Update(_ context.Context, collection string, id any, patch Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	row, ok := c.rows[keyOf(id)]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	return project(row, nil), nil
}

// Delete removes a record or returns ErrNotFound.
func (s *MemoryStore) Delete(_ context.Context, collection string, id any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}
	key := keyOf(id)
	if _, ok := c.rows[key]; !ok {
		return ErrNotFound
	}
	delete(c.rows, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
