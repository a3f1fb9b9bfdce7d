package runtime

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Entity is a set of stored fields. Generated entity types embed it and
// call its methods through the embedded field, so generated accessors may
// share these method names.
type Entity struct {
	fields map[string]Value
}

// NewEntity returns an empty entity.
func NewEntity() *Entity {
	return &Entity{fields: make(map[string]Value)}
}

// Get returns the value of a field and whether it is set.
func (e *Entity) Get(key string) (Value, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// MustGet returns the value of a required field. It panics if the field is unset.
func (e *Entity) MustGet(key string) Value {
	v, ok := e.fields[key]
	if !ok {
		panic(fmt.Sprintf("runtime: required field %q is not set", key))
	}
	return v
}

// Set sets a field.
func (e *Entity) Set(key string, v Value) { e.fields[key] = v }

// Unset removes a field.
func (e *Entity) Unset(key string) { delete(e.fields, key) }

// Keys returns the set field names in sorted order.
func (e *Entity) Keys() []string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Entity) clone() *Entity {
	c := NewEntity()
	for k, v := range e.fields {
		c.fields[k] = v
	}
	return c
}

// Store persists entities by type name and id.
type Store interface {
	// Get returns the stored entity, or nil if there is none.
	Get(ctx context.Context, entity, id string) (*Entity, error)
	Set(ctx context.Context, entity, id string, e *Entity) error
	// LoadRelated returns the entities of type entity whose field references id.
	LoadRelated(ctx context.Context, entity, field string, id Value) ([]*Entity, error)
}

// MemoryStore is an in-memory Store and DataSourceCreator.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]map[string]*Entity
	created  []CreatedDataSource
}

// CreatedDataSource records one template instantiation.
type CreatedDataSource struct {
	Template string
	Params   []string
	Context  DataSourceContext
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]map[string]*Entity)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, entity, id string) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entity][id]
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, entity, id string, e *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[entity] == nil {
		s.entities[entity] = make(map[string]*Entity)
	}
	s.entities[entity][id] = e.clone()
	return nil
}

// LoadRelated implements Store. A list field matches when any element
// equals id. Results are ordered by entity id.
func (s *MemoryStore) LoadRelated(ctx context.Context, entity, field string, id Value) ([]*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entities[entity]))
	for k := range s.entities[entity] {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	var out []*Entity
	for _, k := range ids {
		e := s.entities[entity][k]
		if v, ok := e.Get(field); ok && references(v, id) {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

// CreateDataSource implements DataSourceCreator.
func (s *MemoryStore) CreateDataSource(ctx context.Context, template string, params []string, dsContext DataSourceContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, CreatedDataSource{Template: template, Params: params, Context: dsContext})
	return nil
}

// Created returns the recorded template instantiations in order.
func (s *MemoryStore) Created() []CreatedDataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedDataSource(nil), s.created...)
}

func references(v, id Value) bool {
	if list, ok := v.([]Value); ok {
		for _, e := range list {
			if equal(e, id) {
				return true
			}
		}
		return false
	}
	return equal(v, id)
}

func equal(a, b Value) bool {
	if x, ok := a.([]byte); ok {
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return reflect.DeepEqual(a, b)
}
