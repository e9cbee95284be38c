package backend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport records what was sent and lets the test inject inbound
// messages.
type scriptedTransport struct {
	mu     sync.Mutex
	sent   []Message
	msgs   chan []byte
	closed bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{msgs: make(chan []byte, 16)}
}

func (t *scriptedTransport) Send(data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()
	return nil
}

func (t *scriptedTransport) Messages() <-chan []byte {
	return t.msgs
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.msgs)
	}
	return nil
}

func (t *scriptedTransport) deliver(tb testing.TB, msg Message) {
	tb.Helper()
	data, err := json.Marshal(msg)
	require.NoError(tb, err)
	t.msgs <- data
}

func (t *scriptedTransport) lastSent(tb testing.TB) Message {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.sent)
	return t.sent[len(t.sent)-1]
}

func (t *scriptedTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func TestCallCorrelatesResponseBySequence(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)
	defer c.Close()

	type result struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := c.Call(context.Background(), KindSetBreakpoint, SetBreakpointArgs{ID: 1, File: "a.py", Line: 10})
		done <- result{payload, err}
	}()

	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)
	sent := tr.lastSent(t)
	assert.Equal(t, KindSetBreakpoint, sent.Command)

	tr.deliver(t, Message{Command: KindSetBreakpoint, Seq: sent.Seq, Payload: json.RawMessage(`{"ok":true}`)})

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"ok":true}`, string(res.payload))
	case <-time.After(time.Second):
		t.Fatal("call did not resolve")
	}
}

func TestSequenceNumbersIncrease(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)
	defer c.Close()

	for i := 0; i < 3; i++ {
		go c.Call(context.Background(), KindStepOver, StepArgs{ThreadID: 1})
	}
	require.Eventually(t, func() bool { return tr.sentCount() == 3 }, time.Second, time.Millisecond)

	tr.mu.Lock()
	seqs := map[int]bool{}
	for _, msg := range tr.sent {
		assert.False(t, seqs[msg.Seq], "sequence %d reused", msg.Seq)
		seqs[msg.Seq] = true
	}
	tr.mu.Unlock()
}

func TestDebuggerErrorSurfacesFromCall(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)
	defer c.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), KindRemoveBreakpoint, RemoveBreakpointArgs{ID: 42})
		errs <- err
	}()

	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)
	tr.deliver(t, Message{Command: KindRemoveBreakpoint, Seq: tr.lastSent(t).Seq, Error: "no such breakpoint"})

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such breakpoint")
	case <-time.After(time.Second):
		t.Fatal("call did not resolve")
	}
}

func TestUnmatchedMessagesBecomeNotifications(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)
	defer c.Close()

	tr.deliver(t, Message{Command: KindOutput, Seq: 0, Payload: json.RawMessage(`{"category":"stdout","text":"hi\n"}`)})

	select {
	case n := <-c.Notifications():
		assert.Equal(t, KindOutput, n.Kind)
		var p OutputPayload
		require.NoError(t, json.Unmarshal(n.Payload, &p))
		assert.Equal(t, "hi\n", p.Text)
	case <-time.After(time.Second):
		t.Fatal("notification was not routed")
	}
}

func TestBurstOfNotificationsIsDelivered(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)
	defer c.Close()

	payload, err := json.Marshal(Message{Command: KindOutput, Payload: json.RawMessage(`{"category":"stdout","text":"x"}`)})
	require.NoError(t, err)

	// Far more than the channel buffer, delivered with no consumer keeping
	// pace. Every single one must still arrive.
	const total = 500
	go func() {
		for i := 0; i < total; i++ {
			tr.msgs <- payload
		}
	}()

	for i := 0; i < total; i++ {
		select {
		case n := <-c.Notifications():
			assert.Equal(t, KindOutput, n.Kind)
		case <-time.After(time.Second):
			t.Fatalf("notification %d of %d never arrived", i+1, total)
		}
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), KindRun, nil)
		errs <- err
	}()
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)

	c.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call leaked after close")
	}

	// The notification stream ends too.
	_, open := <-c.Notifications()
	assert.False(t, open)

	// New calls fail fast.
	_, err := c.Call(context.Background(), KindRun, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestTransportEOFBehavesLikeClose(t *testing.T) {
	tr := newScriptedTransport()
	c := NewClient(tr)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), KindListThreads, nil)
		errs <- err
	}()
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)

	// Simulate the connection dropping out from under the client.
	tr.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call leaked after transport EOF")
	}
}
