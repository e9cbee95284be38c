package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adapterlab/dapbridge/backend"
	"github.com/adapterlab/dapbridge/breakpoint"
)

type fakeSession struct {
	mu      sync.Mutex
	threads []int
	exited  bool
	status  int
}

func (s *fakeSession) AddThread(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = append(s.threads, id)
}

func (s *fakeSession) MarkExited(status int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return false
	}
	s.exited = true
	s.status = status
	return true
}

type fakeBook struct {
	verified []int
	known    map[int]breakpoint.Breakpoint
}

func (b *fakeBook) MarkVerified(id int) (breakpoint.Breakpoint, bool) {
	b.verified = append(b.verified, id)
	bp, ok := b.known[id]
	if ok {
		bp.Verified = true
	}
	return bp, ok
}

type harness struct {
	session *fakeSession
	book    *fakeBook
	sent    []dap.Message
	d       *Dispatcher
}

func newHarness() *harness {
	h := &harness{
		session: &fakeSession{},
		book:    &fakeBook{known: map[int]breakpoint.Breakpoint{}},
	}
	h.d = New(h.session, h.book, func(msg dap.Message) {
		h.sent = append(h.sent, msg)
	})
	return h
}

func (h *harness) notify(t *testing.T, kind backend.Kind, payload interface{}) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	h.d.handle(backend.Notification{Kind: kind, Payload: raw})
}

func TestVersionNotificationHasNoClientEffect(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindVersion, backend.VersionResult{Version: "2.1"})
	assert.Empty(t, h.sent)
}

func TestThreadCreateRegistersThread(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindThreadCreate, backend.ThreadCreatePayload{ThreadID: 7})

	assert.Equal(t, []int{7}, h.session.threads)
	require.Len(t, h.sent, 1)
	ev, ok := h.sent[0].(*dap.ThreadEvent)
	require.True(t, ok)
	assert.Equal(t, "started", ev.Body.Reason)
	assert.Equal(t, 7, ev.Body.ThreadId)
}

func TestBreakpointHitEmitsStoppedEvent(t *testing.T) {
	h := newHarness()
	h.book.known[3] = breakpoint.Breakpoint{ID: 3, File: "a.py", Line: 10}

	h.notify(t, backend.KindBreakpointHit, backend.BreakpointHitPayload{ThreadID: 1, BreakpointID: 3})

	require.Len(t, h.sent, 2)
	bev, ok := h.sent[0].(*dap.BreakpointEvent)
	require.True(t, ok)
	assert.Equal(t, 3, bev.Body.Breakpoint.Id)
	assert.True(t, bev.Body.Breakpoint.Verified)

	sev, ok := h.sent[1].(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", sev.Body.Reason)
	assert.Equal(t, 1, sev.Body.ThreadId)
	assert.Equal(t, []int{3}, h.book.verified)
}

func TestPauseWithoutBreakpointStillStops(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindBreakpointHit, backend.BreakpointHitPayload{ThreadID: 2, Reason: "pause"})

	require.Len(t, h.sent, 1)
	sev, ok := h.sent[0].(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "pause", sev.Body.Reason)
	assert.Equal(t, 2, sev.Body.ThreadId)
}

func TestProcessExitedTerminates(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindProcessExited, backend.ProcessExitedPayload{Status: 0})

	assert.True(t, h.session.exited)
	assert.Equal(t, 0, h.session.status)
	require.Len(t, h.sent, 2)
	eev, ok := h.sent[0].(*dap.ExitedEvent)
	require.True(t, ok)
	assert.Equal(t, 0, eev.Body.ExitCode)
	_, ok = h.sent[1].(*dap.TerminatedEvent)
	assert.True(t, ok)
}

func TestProcessExitedIsIdempotent(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindProcessExited, backend.ProcessExitedPayload{Status: 1})
	h.notify(t, backend.KindProcessExited, backend.ProcessExitedPayload{Status: 2})

	assert.Equal(t, 1, h.session.status, "exit status is settable once")
	assert.Len(t, h.sent, 2, "second exit notification emits nothing")
}

func TestOutputMapsToOutputEvent(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindOutput, backend.OutputPayload{Category: "stderr", Text: "boom\n"})

	require.Len(t, h.sent, 1)
	ev, ok := h.sent[0].(*dap.OutputEvent)
	require.True(t, ok)
	assert.Equal(t, "stderr", ev.Body.Category)
	assert.Equal(t, "boom\n", ev.Body.Output)
}

func TestOutputDefaultsToConsole(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.KindOutput, backend.OutputPayload{Text: "hello"})

	require.Len(t, h.sent, 1)
	assert.Equal(t, "console", h.sent[0].(*dap.OutputEvent).Body.Category)
}

func TestUnknownKindIsIgnored(t *testing.T) {
	h := newHarness()
	h.notify(t, backend.Kind("quantum-entangle"), map[string]int{"x": 1})
	assert.Empty(t, h.sent)
	assert.False(t, h.session.exited)
}

func TestMalformedPayloadIsIgnored(t *testing.T) {
	h := newHarness()
	h.d.handle(backend.Notification{Kind: backend.KindProcessExited, Payload: json.RawMessage(`{"status":"not-a-number"}`)})
	assert.Empty(t, h.sent)
	assert.False(t, h.session.exited)
}

func TestRunDrainsUntilChannelCloses(t *testing.T) {
	h := newHarness()
	ch := make(chan backend.Notification, 2)
	payload, err := json.Marshal(backend.OutputPayload{Category: "stdout", Text: "a"})
	require.NoError(t, err)
	ch <- backend.Notification{Kind: backend.KindOutput, Payload: payload}
	ch <- backend.Notification{Kind: backend.KindOutput, Payload: payload}
	close(ch)

	h.d.Run(ch)
	assert.Len(t, h.sent, 2)
}
