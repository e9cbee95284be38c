package adapter

import (
	"sync"

	"github.com/adapterlab/dapbridge/backend"
)

// Handles mints variablesReference values for variable snapshots the client
// may expand lazily. Handle numbers keep increasing across resets, so a live
// handle can never alias a variable registered after the reset that
// invalidated it.
type Handles struct {
	mu   sync.Mutex
	next int
	vars map[int]backend.Variable
}

// NewHandles creates an empty registry.
func NewHandles() *Handles {
	return &Handles{
		next: 1000,
		vars: make(map[int]backend.Variable),
	}
}

// Add registers a variable snapshot and returns its handle.
func (h *Handles) Add(v backend.Variable) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := h.next
	h.next++
	h.vars[ref] = v
	return ref
}

// Get returns the variable behind a handle.
func (h *Handles) Get(ref int) (backend.Variable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.vars[ref]
	return v, ok
}

// Reset drops all live handles. Snapshots have no identity across stack or
// thread refreshes, so the registry is cleared on every refresh.
func (h *Handles) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vars = make(map[int]backend.Variable)
}
