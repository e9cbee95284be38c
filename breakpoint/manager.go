// Package breakpoint reconciles the client's desired breakpoints per source
// file against what was last applied to the debugger.
package breakpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/adapterlab/dapbridge/backend"
	"github.com/adapterlab/dapbridge/log"
)

// Breakpoint is one source-line breakpoint the adapter asked the debugger to
// place. IDs are allocated by the session, never reused, and strictly
// increasing across the whole session.
type Breakpoint struct {
	ID       int
	File     string
	Line     int
	Verified bool
}

// Result is the per-line outcome of a reconcile, in client order.
type Result struct {
	ID       int
	Line     int
	Verified bool
}

// Commander is the slice of the backend client the manager needs.
type Commander interface {
	Call(ctx context.Context, kind backend.Kind, payload interface{}) (json.RawMessage, error)
}

type fileState struct {
	mu      sync.Mutex
	applied []*Breakpoint
}

// Manager owns the per-file desired-plus-applied breakpoint state. Same-file
// reconciles are serialized; different files proceed independently.
type Manager struct {
	cmd    Commander
	nextID func() int
	logger zerolog.Logger

	mu    sync.Mutex
	files map[string]*fileState
}

// NewManager creates a manager that issues commands through cmd and draws
// breakpoint ids from nextID.
func NewManager(cmd Commander, nextID func() int) *Manager {
	return &Manager{
		cmd:    cmd,
		nextID: nextID,
		logger: log.New("breakpoint"),
		files:  make(map[string]*fileState),
	}
}

func (m *Manager) file(path string) *fileState {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.files[path]
	if !ok {
		fs = &fileState{}
		m.files[path] = fs
	}
	return fs
}

// Reconcile makes the debugger's breakpoints for file match lines. Every
// previously applied breakpoint is removed by id and every desired line is
// re-added under a fresh id, so no stale id survives a rename or reorder.
// Results come back in the same order as lines, unverified until the
// debugger confirms placement.
func (m *Manager) Reconcile(ctx context.Context, file string, lines []int) ([]Result, error) {
	fs := m.file(file)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	next := make([]*Breakpoint, 0, len(lines))

	for _, bp := range fs.applied {
		if _, err := m.cmd.Call(ctx, backend.KindRemoveBreakpoint, backend.RemoveBreakpointArgs{ID: bp.ID}); err != nil {
			// The debugger may still have this breakpoint; keep it in the
			// books, unverified, so the client sees reality.
			m.logger.Warn().Err(err).Int("id", bp.ID).Str("file", file).Msg("remove breakpoint failed")
			bp.Verified = false
			next = append(next, bp)
		}
	}

	results := make([]Result, 0, len(lines))
	for _, line := range lines {
		bp := &Breakpoint{
			ID:   m.nextID(),
			File: file,
			Line: line,
		}
		args := backend.SetBreakpointArgs{ID: bp.ID, File: bp.File, Line: bp.Line}
		if _, err := m.cmd.Call(ctx, backend.KindSetBreakpoint, args); err != nil {
			if errors.Is(err, backend.ErrChannelClosed) {
				fs.applied = next
				return nil, errors.Wrapf(err, "set breakpoint %s:%d", file, line)
			}
			m.logger.Warn().Err(err).Int("id", bp.ID).Str("file", file).Int("line", line).Msg("set breakpoint failed")
		}
		next = append(next, bp)
		results = append(results, Result{ID: bp.ID, Line: line, Verified: bp.Verified})
	}

	fs.applied = next
	return results, nil
}

// MarkVerified records that the debugger confirmed placement of the
// breakpoint with the given id and returns it, or false if the id is not in
// the books (e.g. already replaced by a later reconcile).
func (m *Manager) MarkVerified(id int) (Breakpoint, bool) {
	m.mu.Lock()
	files := make([]*fileState, 0, len(m.files))
	for _, fs := range m.files {
		files = append(files, fs)
	}
	m.mu.Unlock()

	for _, fs := range files {
		fs.mu.Lock()
		for _, bp := range fs.applied {
			if bp.ID == id {
				bp.Verified = true
				snapshot := *bp
				fs.mu.Unlock()
				return snapshot, true
			}
		}
		fs.mu.Unlock()
	}
	return Breakpoint{}, false
}

// Applied returns a copy of the currently applied breakpoints for file, in
// application order.
func (m *Manager) Applied(file string) []Breakpoint {
	fs := m.file(file)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Breakpoint, 0, len(fs.applied))
	for _, bp := range fs.applied {
		out = append(out, *bp)
	}
	return out
}
