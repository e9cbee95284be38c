// Package events re-maps unsolicited debugger notifications into
// client-facing DAP events.
package events

import (
	"encoding/json"

	"github.com/google/go-dap"
	"github.com/rs/zerolog"

	"github.com/adapterlab/dapbridge/backend"
	"github.com/adapterlab/dapbridge/breakpoint"
	"github.com/adapterlab/dapbridge/log"
)

// SessionState is the slice of the session the dispatcher mutates.
type SessionState interface {
	AddThread(id int)
	MarkExited(status int) bool
}

// BreakpointBook lets the dispatcher flip a breakpoint's verified flag when
// the debugger confirms placement.
type BreakpointBook interface {
	MarkVerified(id int) (breakpoint.Breakpoint, bool)
}

// Dispatcher consumes the backend notification stream and emits DAP events
// through send. Unknown notification kinds are ignored; the debugger is
// allowed to grow new ones.
type Dispatcher struct {
	session     SessionState
	breakpoints BreakpointBook
	send        func(dap.Message)
	logger      zerolog.Logger
}

// New creates a dispatcher bound to the given session and event sink.
func New(session SessionState, breakpoints BreakpointBook, send func(dap.Message)) *Dispatcher {
	return &Dispatcher{
		session:     session,
		breakpoints: breakpoints,
		send:        send,
		logger:      log.New("events"),
	}
}

// Run consumes notifications until the channel closes.
func (d *Dispatcher) Run(notifications <-chan backend.Notification) {
	for n := range notifications {
		d.handle(n)
	}
}

func (d *Dispatcher) handle(n backend.Notification) {
	switch n.Kind {
	case backend.KindVersion:
		var v backend.VersionResult
		d.decode(n, &v)
		d.logger.Debug().Str("version", v.Version).Msg("debugger handshake")

	case backend.KindThreadCreate:
		var p backend.ThreadCreatePayload
		if !d.decode(n, &p) {
			return
		}
		d.session.AddThread(p.ThreadID)
		d.send(&dap.ThreadEvent{
			Event: newEvent("thread"),
			Body:  dap.ThreadEventBody{Reason: "started", ThreadId: p.ThreadID},
		})

	case backend.KindBreakpointHit:
		var p backend.BreakpointHitPayload
		if !d.decode(n, &p) {
			return
		}
		d.session.AddThread(p.ThreadID)
		if p.BreakpointID != 0 {
			if bp, ok := d.breakpoints.MarkVerified(p.BreakpointID); ok {
				d.send(&dap.BreakpointEvent{
					Event: newEvent("breakpoint"),
					Body: dap.BreakpointEventBody{
						Reason: "changed",
						Breakpoint: dap.Breakpoint{
							Id:       bp.ID,
							Line:     bp.Line,
							Verified: true,
							Source:   &dap.Source{Path: bp.File},
						},
					},
				})
			}
		}
		reason := p.Reason
		if reason == "" {
			reason = "breakpoint"
		}
		d.send(&dap.StoppedEvent{
			Event: newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: reason, ThreadId: p.ThreadID, AllThreadsStopped: true},
		})

	case backend.KindProcessExited:
		var p backend.ProcessExitedPayload
		if !d.decode(n, &p) {
			return
		}
		if !d.session.MarkExited(p.Status) {
			return
		}
		d.send(&dap.ExitedEvent{
			Event: newEvent("exited"),
			Body:  dap.ExitedEventBody{ExitCode: p.Status},
		})
		d.send(&dap.TerminatedEvent{Event: newEvent("terminated")})

	case backend.KindOutput:
		var p backend.OutputPayload
		if !d.decode(n, &p) {
			return
		}
		category := p.Category
		if category == "" {
			category = "console"
		}
		d.send(&dap.OutputEvent{
			Event: newEvent("output"),
			Body:  dap.OutputEventBody{Category: category, Output: p.Text},
		})

	default:
		d.logger.Warn().Str("kind", string(n.Kind)).Msg("ignoring unknown notification kind")
	}
}

func (d *Dispatcher) decode(n backend.Notification, v interface{}) bool {
	if len(n.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(n.Payload, v); err != nil {
		d.logger.Warn().Err(err).Str("kind", string(n.Kind)).Msg("malformed notification payload")
		return false
	}
	return true
}

func newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}
