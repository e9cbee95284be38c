package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/adapterlab/dapbridge/launch"
)

// ErrSessionNotReady is the base error for requests that arrive in a stage
// that forbids them.
var ErrSessionNotReady = errors.New("session not ready")

// Session holds all per-conversation state: the lifecycle stage, the launch
// configuration, the breakpoint id allocator, the known thread set and the
// variable handle registry. One session exists per debugging conversation
// and is shared by reference with the components that need it.
type Session struct {
	ID string

	mu         sync.Mutex
	stage      Stage
	exited     bool
	exitStatus int
	cfg        *launch.Config
	threads    map[int]struct{}
	bpID       int

	Handles *Handles
}

// NewSession creates a session in the Created stage.
func NewSession() *Session {
	return &Session{
		ID:      fmt.Sprintf("session-%d", uuid.New().ID()),
		stage:   StageCreated,
		threads: make(map[int]struct{}),
		Handles: NewHandles(),
	}
}

// Stage returns the current lifecycle stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Initialize moves Created → Initializing. Calling it in any other stage is
// a protocol-sequence error.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageCreated {
		return fmt.Errorf("%w: initialize not allowed in stage %s", ErrSessionNotReady, s.stage)
	}
	s.stage = StageInitializing
	return nil
}

// FinishInitialize completes the Initializing → Initialized transition once
// the capabilities response has been produced.
func (s *Session) FinishInitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageInitializing {
		s.stage = StageInitialized
	}
}

// BeginLaunch stores the launch configuration and moves Initialized →
// Launching.
func (s *Session) BeginLaunch(cfg *launch.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageInitialized {
		return fmt.Errorf("%w: launch not allowed in stage %s", ErrSessionNotReady, s.stage)
	}
	s.cfg = cfg
	s.stage = StageLaunching
	return nil
}

// MarkRunning records that the debugger connection is live.
func (s *Session) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageLaunching {
		s.stage = StageRunning
	}
}

// Terminate moves the session to Terminated and reports whether this call
// performed the transition.
func (s *Session) Terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageTerminated {
		return false
	}
	s.stage = StageTerminated
	return true
}

// MarkExited records the debuggee exit status. It is settable once, only
// while Running, and moves the session to Terminated.
func (s *Session) MarkExited(status int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited || s.stage != StageRunning {
		return false
	}
	s.exited = true
	s.exitStatus = status
	s.stage = StageTerminated
	return true
}

// Exited returns the exit flag and status.
func (s *Session) Exited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exitStatus
}

// Config returns the stored launch configuration, nil before launch.
func (s *Session) Config() *launch.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RequireActive fails unless the session has been initialized and has not
// terminated. Requests rejected here must never mutate state.
func (s *Session) RequireActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stage {
	case StageCreated, StageInitializing:
		return fmt.Errorf("%w: not initialized", ErrSessionNotReady)
	case StageTerminated:
		return fmt.Errorf("%w: session terminated", ErrSessionNotReady)
	default:
		return nil
	}
}

// NextBreakpointID allocates a session-unique, strictly increasing
// breakpoint id. IDs are never reused.
func (s *Session) NextBreakpointID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bpID++
	return s.bpID
}

// AddThread records a debuggee thread id.
func (s *Session) AddThread(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = struct{}{}
}

// SetThreads replaces the known thread set, e.g. after a list-threads call.
func (s *Session) SetThreads(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		s.threads[id] = struct{}{}
	}
}

// Threads returns the known thread ids in ascending order.
func (s *Session) Threads() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.threads))
	for id := range s.threads {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
