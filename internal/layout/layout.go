// Package layout remembers where each node was last drawn.
package layout

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed Memory.
var ErrClosed = errors.New("layout memory closed")

// Position is a node's 2D coordinate.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Pinned bool    `json:"pinned,omitempty"`
}

// Memory is a last-write-wins position cache keyed by node id. It is
// independent of any scan session.
type Memory interface {
	Get(id string) (Position, bool, error)
	Put(id string, pos Position) error
	Clear() error
	Close() error
}

// MapMemory keeps positions in process memory.
type MapMemory struct {
	mu        sync.RWMutex
	positions map[string]Position
	closed    bool
}

// NewMapMemory returns an empty in-process layout memory.
func NewMapMemory() *MapMemory {
	return &MapMemory{positions: make(map[string]Position)}
}

func (m *MapMemory) Get(id string) (Position, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Position{}, false, ErrClosed
	}
	pos, ok := m.positions[id]
	return pos, ok, nil
}

func (m *MapMemory) Put(id string, pos Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.positions[id] = pos
	return nil
}

func (m *MapMemory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.positions = make(map[string]Position)
	return nil
}

func (m *MapMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.positions = nil
	return nil
}

// Len returns the number of remembered positions.
func (m *MapMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

var _ Memory = (*MapMemory)(nil)
