// Package adapter serves the Debug Adapter Protocol on one side and drives
// the line-protocol debugger backend on the other. It owns the session
// lifecycle, defers connection-dependent requests behind the connection
// gate, and keeps the breakpoint books consistent with what was actually
// sent to the debugger.
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/rs/zerolog"

	"github.com/adapterlab/dapbridge/backend"
	"github.com/adapterlab/dapbridge/breakpoint"
	"github.com/adapterlab/dapbridge/events"
	"github.com/adapterlab/dapbridge/gate"
	"github.com/adapterlab/dapbridge/launch"
	"github.com/adapterlab/dapbridge/log"
)

// Connector establishes the command channel to the debugger for a launch
// configuration. Tests substitute an in-memory one.
type Connector func(ctx context.Context, cfg *launch.Config) (*backend.Client, error)

// Options configures an Adapter.
type Options struct {
	// Connector defaults to dialing cfg.Addr() over TCP.
	Connector Connector
}

// Adapter is one DAP conversation: a session, its connection gate, its
// breakpoint manager and the backend client once launch connects.
type Adapter struct {
	session     *Session
	logger      zerolog.Logger
	connector   Connector
	gate        *gate.Gate
	breakpoints *breakpoint.Manager

	clientMu sync.Mutex
	client   *backend.Client
	closed   bool

	sendQueue chan dap.Message
	sendWg    sync.WaitGroup

	snapMu    sync.Mutex
	snapshots map[int]backend.Thread
}

// NewAdapter creates an adapter with a fresh session in the Created stage.
func NewAdapter(opts Options) *Adapter {
	a := &Adapter{
		session:   NewSession(),
		connector: opts.Connector,
		gate:      gate.New(),
		sendQueue: make(chan dap.Message),
		snapshots: make(map[int]backend.Thread),
	}
	a.logger = log.New("adapter").With().Str("session", a.session.ID).Logger()
	if a.connector == nil {
		a.connector = func(ctx context.Context, cfg *launch.Config) (*backend.Client, error) {
			return backend.Dial(ctx, cfg.Addr())
		}
	}
	a.breakpoints = breakpoint.NewManager(a, a.session.NextBreakpointID)
	return a
}

// Session exposes the adapter's session, mainly for tests.
func (a *Adapter) Session() *Session {
	return a.session
}

// Serve reads DAP requests from conn until EOF, dispatching each one. It
// returns once the conversation is over and all queued work has flushed.
func (a *Adapter) Serve(conn io.ReadWriteCloser) {
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	senderDone := make(chan struct{})
	go a.sendFromQueue(rw, senderDone)

	for {
		msg, err := dap.ReadProtocolMessage(rw.Reader)
		if err != nil {
			if err != io.EOF {
				a.logger.Warn().Err(err).Msg("stopped reading client requests")
			}
			break
		}
		a.dispatch(msg)
	}

	// Shutdown: terminate the session, fail everything in flight, flush
	// queued continuations, then stop the sender and the gate runner.
	a.session.Terminate()
	a.closeBackend()
	a.gate.Reject(gate.ErrConnectionFailed)
	a.sendWg.Wait()
	a.gate.Close()
	close(a.sendQueue)
	<-senderDone
	conn.Close()
	a.logger.Info().Msg("session closed")
}

// send queues a message for the single sender goroutine. Responses and
// events from any goroutine funnel through here so the wire never sees
// interleaved writes.
func (a *Adapter) send(msg dap.Message) {
	a.sendQueue <- msg
}

func (a *Adapter) sendFromQueue(rw *bufio.ReadWriter, done chan struct{}) {
	defer close(done)
	for msg := range a.sendQueue {
		if err := dap.WriteProtocolMessage(rw.Writer, msg); err != nil {
			a.logger.Warn().Err(err).Msg("failed to write message")
			continue
		}
		rw.Flush()
	}
}

// Call implements breakpoint.Commander against the current backend client.
func (a *Adapter) Call(ctx context.Context, kind backend.Kind, payload interface{}) (json.RawMessage, error) {
	c := a.backendClient()
	if c == nil {
		return nil, backend.ErrChannelClosed
	}
	return c.Call(ctx, kind, payload)
}

func (a *Adapter) backendClient() *backend.Client {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	return a.client
}

// adoptClient installs the freshly connected client unless the adapter has
// already shut down, in which case the caller must close it and back out.
func (a *Adapter) adoptClient(c *backend.Client) bool {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.closed {
		return false
	}
	a.client = c
	return true
}

// closeBackend closes the backend client if one exists and bars a late
// connector success from installing one afterwards.
func (a *Adapter) closeBackend() {
	a.clientMu.Lock()
	a.closed = true
	c := a.client
	a.clientMu.Unlock()
	if c != nil {
		c.Close()
	}
}

// deferToGate runs fn once the connection gate settles, preserving the
// order requests were issued in. The send queue stays open until every
// deferred operation has run.
func (a *Adapter) deferToGate(fn func(connErr error)) {
	a.sendWg.Add(1)
	a.gate.Enqueue(func(err error) {
		defer a.sendWg.Done()
		fn(err)
	})
}

// establish connects to the debugger asynchronously after launch. On
// success the gate resolves and queued configuration is applied in order;
// on failure the gate rejects and every queued request observes the error.
func (a *Adapter) establish(cfg *launch.Config) {
	defer a.sendWg.Done()

	client, err := a.connector(context.Background(), cfg)
	if err != nil {
		a.logger.Error().Err(err).Str("addr", cfg.Addr()).Msg("failed to establish debugger connection")
		a.session.Terminate()
		a.gate.Reject(err)
		a.send(&dap.OutputEvent{
			Event: newEvent("output"),
			Body:  dap.OutputEventBody{Category: "console", Output: "failed to connect to debugger: " + err.Error() + "\n"},
		})
		a.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
		return
	}

	// The client may have disconnected while the connector was dialing; a
	// connection nobody will use gets closed, not adopted.
	if !a.adoptClient(client) {
		a.logger.Info().Msg("session ended before the debugger connection came up")
		client.Close()
		a.gate.Reject(gate.ErrConnectionFailed)
		return
	}
	a.session.MarkRunning()

	dispatcher := events.New(a.session, a.breakpoints, a.send)
	a.sendWg.Add(1)
	go func() {
		defer a.sendWg.Done()
		dispatcher.Run(client.Notifications())
		// Notification stream is gone; if the debuggee did not report an
		// orderly exit, the channel dropped out from under us.
		if a.session.Terminate() {
			a.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
		}
	}()

	// Handshake is internal bookkeeping only; failure is not fatal.
	if raw, err := client.Call(context.Background(), backend.KindVersion, nil); err != nil {
		a.logger.Warn().Err(err).Msg("version handshake failed")
	} else {
		var v backend.VersionResult
		if err := json.Unmarshal(raw, &v); err == nil {
			a.logger.Info().Str("version", v.Version).Msg("connected to debugger")
		}
	}

	a.gate.Resolve()
}

func (a *Adapter) snapshot(threadID int) (backend.Thread, bool) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	t, ok := a.snapshots[threadID]
	return t, ok
}

// refreshThreads fetches fresh thread snapshots. Handles from the previous
// snapshot die here; variables have no identity across refreshes.
func (a *Adapter) refreshThreads(ctx context.Context) ([]backend.Thread, error) {
	raw, err := a.Call(ctx, backend.KindListThreads, nil)
	if err != nil {
		return nil, err
	}
	var result backend.ListThreadsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(result.Threads))
	a.snapMu.Lock()
	a.snapshots = make(map[int]backend.Thread, len(result.Threads))
	for _, t := range result.Threads {
		a.snapshots[t.ID] = t
		ids = append(ids, t.ID)
	}
	a.snapMu.Unlock()

	a.session.SetThreads(ids)
	a.session.Handles.Reset()
	return result.Threads, nil
}
