// CLAUDE:SUMMARY Key/value storage capability with explicit Found/Missing/Unavailable outcomes, in-memory and SQLite backends.
// Package kv is the persistent key/value capability the agent reads for the
// configuration cache and for storage-based conditions.
//
// Reads never fail: Get returns a Value whose Outcome says whether the key
// was found, missing, or the store was unavailable. Writes return an error
// that callers treat as best-effort.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is reported when a backend cannot serve requests at all.
var ErrUnavailable = errors.New("kv: storage unavailable")

// Outcome classifies a read.
type Outcome int

const (
	Missing Outcome = iota
	Found
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Unavailable:
		return "unavailable"
	}
	return "missing"
}

// Value is the result of a read.
type Value struct {
	Data    string
	Outcome Outcome
	Err     error // set when Outcome is Unavailable
}

// Is reports whether the value was found and equals want.
func (v Value) Is(want string) bool {
	return v.Outcome == Found && v.Data == want
}

// Store is the storage capability.
type Store interface {
	Get(ctx context.Context, key string) Value
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func found(data string) Value { return Value{Data: data, Outcome: Found} }

func unavailable(err error) Value { return Value{Outcome: Unavailable, Err: err} }

// Memory is an in-process Store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
	down    error
}

// NewMemory returns a Memory store seeded with entries.
func NewMemory(entries map[string]string) *Memory {
	m := &Memory{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		m.entries[k] = v
	}
	return m
}

// SetUnavailable makes every subsequent call fail with err (nil restores).
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

func (m *Memory) Get(_ context.Context, key string) Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down != nil {
		return unavailable(m.down)
	}
	v, ok := m.entries[key]
	if !ok {
		return Value{}
	}
	return found(v)
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	m.entries[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	delete(m.entries, key)
	return nil
}

// Nop is a Store that holds nothing and accepts nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) Value          { return unavailable(ErrUnavailable) }
func (Nop) Set(context.Context, string, string) error { return ErrUnavailable }
func (Nop) Delete(context.Context, string) error      { return ErrUnavailable }
