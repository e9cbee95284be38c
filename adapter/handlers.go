package adapter

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/go-dap"

	"github.com/adapterlab/dapbridge/backend"
	"github.com/adapterlab/dapbridge/gate"
	"github.com/adapterlab/dapbridge/launch"
)

// dispatch routes one client request. Requests that need the debugger
// connection are queued behind the gate; everything else is handled
// inline on the read loop, which serializes client-driven mutations.
func (a *Adapter) dispatch(msg dap.Message) {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		a.onInitialize(req)
	case *dap.LaunchRequest:
		a.onLaunch(req)
	case *dap.SetBreakpointsRequest:
		a.onSetBreakpoints(req)
	case *dap.ConfigurationDoneRequest:
		a.onConfigurationDone(req)
	case *dap.ThreadsRequest:
		a.onThreads(req)
	case *dap.StackTraceRequest:
		a.onStackTrace(req)
	case *dap.ScopesRequest:
		a.onScopes(req)
	case *dap.VariablesRequest:
		a.onVariables(req)
	case *dap.ContinueRequest:
		a.onContinue(req)
	case *dap.NextRequest:
		a.onStep(&req.Request, backend.KindStepOver, req.Arguments.ThreadId, func() dap.Message {
			return &dap.NextResponse{Response: newResponse(req.Seq, req.Command)}
		})
	case *dap.StepInRequest:
		a.onStep(&req.Request, backend.KindStepInto, req.Arguments.ThreadId, func() dap.Message {
			return &dap.StepInResponse{Response: newResponse(req.Seq, req.Command)}
		})
	case *dap.StepOutRequest:
		a.onStep(&req.Request, backend.KindStepReturn, req.Arguments.ThreadId, func() dap.Message {
			return &dap.StepOutResponse{Response: newResponse(req.Seq, req.Command)}
		})
	case *dap.EvaluateRequest:
		a.onEvaluate(req)
	case *dap.DisconnectRequest:
		a.onDisconnect(req)
	case *dap.TerminateRequest:
		a.onTerminate(req)
	default:
		if r, ok := msg.(dap.RequestMessage); ok {
			base := r.GetRequest()
			a.send(newErrorResponse(base.Seq, base.Command, fmt.Sprintf("request %q is not supported", base.Command)))
		} else {
			a.logger.Warn().Msgf("ignoring non-request message %T", msg)
		}
	}
}

func (a *Adapter) onInitialize(req *dap.InitializeRequest) {
	if err := a.session.Initialize(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}

	// The initialized event goes out before the response so the client
	// knows it may start sending configuration (breakpoints) right away,
	// well before the debuggee exists.
	a.send(&dap.InitializedEvent{Event: newEvent("initialized")})

	resp := &dap.InitializeResponse{Response: newResponse(req.Seq, req.Command)}
	resp.Body.SupportsConfigurationDoneRequest = true
	resp.Body.SupportsEvaluateForHovers = true
	resp.Body.SupportsStepBack = false
	a.send(resp)

	a.session.FinishInitialize()
}

func (a *Adapter) onLaunch(req *dap.LaunchRequest) {
	cfg, err := launch.Parse(req.Arguments)
	if err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	if err := a.session.BeginLaunch(cfg); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}

	a.logger.Info().Str("program", cfg.Program).Str("addr", cfg.Addr()).Msg("launching")

	// The response is not blocked on the connection coming up; queued
	// requests wait behind the gate instead.
	a.sendWg.Add(1)
	go a.establish(cfg)

	a.send(&dap.LaunchResponse{Response: newResponse(req.Seq, req.Command)})
}

func (a *Adapter) onSetBreakpoints(req *dap.SetBreakpointsRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}

	file := req.Arguments.Source.Path
	lines := make([]int, 0, len(req.Arguments.Breakpoints))
	for _, b := range req.Arguments.Breakpoints {
		lines = append(lines, b.Line)
	}
	if len(lines) == 0 && len(req.Arguments.Lines) > 0 {
		lines = req.Arguments.Lines
	}

	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		results, err := a.breakpoints.Reconcile(context.Background(), file, lines)
		if err != nil {
			a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
			return
		}
		resp := &dap.SetBreakpointsResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body.Breakpoints = make([]dap.Breakpoint, len(results))
		for i, r := range results {
			resp.Body.Breakpoints[i] = dap.Breakpoint{
				Id:       r.ID,
				Line:     r.Line,
				Verified: r.Verified,
				Source:   &dap.Source{Path: file},
			}
		}
		a.send(resp)
	})
}

func (a *Adapter) onConfigurationDone(req *dap.ConfigurationDoneRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		a.send(&dap.ConfigurationDoneResponse{Response: newResponse(req.Seq, req.Command)})

		cfg := a.session.Config()
		if cfg != nil && cfg.StopOnEntry {
			a.send(&dap.StoppedEvent{
				Event: newEvent("stopped"),
				Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: 1, AllThreadsStopped: true},
			})
			return
		}
		if _, err := a.Call(context.Background(), backend.KindRun, nil); err != nil {
			a.logger.Warn().Err(err).Msg("run command failed")
		}
	})
}

func (a *Adapter) onContinue(req *dap.ContinueRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		if _, err := a.Call(context.Background(), backend.KindRun, nil); err != nil {
			a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
			return
		}
		resp := &dap.ContinueResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body.AllThreadsContinued = true
		a.send(resp)
	})
}

func (a *Adapter) onStep(base *dap.Request, kind backend.Kind, threadID int, mkResp func() dap.Message) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(base.Seq, base.Command, err.Error()))
		return
	}
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(base.Seq, base.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		if _, err := a.Call(context.Background(), kind, backend.StepArgs{ThreadID: threadID}); err != nil {
			a.send(newErrorResponse(base.Seq, base.Command, err.Error()))
			return
		}
		a.send(mkResp())
	})
}

func (a *Adapter) onThreads(req *dap.ThreadsRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		threads, err := a.refreshThreads(context.Background())
		if err != nil {
			a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
			return
		}
		resp := &dap.ThreadsResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body.Threads = make([]dap.Thread, 0, len(threads))
		for _, t := range threads {
			name := fmt.Sprintf("thread %d", t.ID)
			if t.Function != nil && t.Function.Name != "" {
				name = t.Function.Name
			}
			resp.Body.Threads = append(resp.Body.Threads, dap.Thread{Id: t.ID, Name: name})
		}
		a.send(resp)
	})
}

func (a *Adapter) onStackTrace(req *dap.StackTraceRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	threadID := req.Arguments.ThreadId
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		snap, ok := a.snapshot(threadID)
		if !ok {
			if _, err := a.refreshThreads(context.Background()); err != nil {
				a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
				return
			}
			if snap, ok = a.snapshot(threadID); !ok {
				a.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("unknown thread %d", threadID)))
				return
			}
		}

		name := fmt.Sprintf("%s:%d", filepath.Base(snap.File), snap.Line)
		if snap.Function != nil && snap.Function.Name != "" {
			name = snap.Function.Name
		}
		resp := &dap.StackTraceResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body = dap.StackTraceResponseBody{
			StackFrames: []dap.StackFrame{
				{
					// The debugger reports one frame per thread, so the
					// frame id is the thread id.
					Id:   snap.ID,
					Name: name,
					Line: snap.Line,
					Source: &dap.Source{
						Name: filepath.Base(snap.File),
						Path: snap.File,
					},
				},
			},
			TotalFrames: 1,
		}
		a.send(resp)
	})
}

func (a *Adapter) onScopes(req *dap.ScopesRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	frameID := req.Arguments.FrameId
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		resp := &dap.ScopesResponse{Response: newResponse(req.Seq, req.Command)}
		snap, ok := a.snapshot(frameID)
		if ok && snap.Function != nil {
			fn := snap.Function
			resp.Body.Scopes = []dap.Scope{
				{
					Name:               "Arguments",
					VariablesReference: a.session.Handles.Add(backend.Variable{Name: "Arguments", Children: fn.Args}),
				},
				{
					Name:               "Locals",
					VariablesReference: a.session.Handles.Add(backend.Variable{Name: "Locals", Children: fn.Locals}),
				},
			}
		}
		a.send(resp)
	})
}

func (a *Adapter) onVariables(req *dap.VariablesRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	ref := req.Arguments.VariablesReference
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		parent, ok := a.session.Handles.Get(ref)
		if !ok {
			a.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("unknown variables reference %d", ref)))
			return
		}
		resp := &dap.VariablesResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body.Variables = make([]dap.Variable, 0, len(parent.Children))
		for _, child := range parent.Children {
			v := dap.Variable{
				Name:  child.Name,
				Value: child.Value,
				Type:  child.Type,
			}
			if len(child.Children) > 0 {
				v.VariablesReference = a.session.Handles.Add(child)
			}
			if child.Len > 0 {
				v.IndexedVariables = int(child.Len)
			}
			resp.Body.Variables = append(resp.Body.Variables, v)
		}
		a.send(resp)
	})
}

func (a *Adapter) onEvaluate(req *dap.EvaluateRequest) {
	if err := a.session.RequireActive(); err != nil {
		a.send(newErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	expr := req.Arguments.Expression
	frameID := req.Arguments.FrameId
	a.deferToGate(func(connErr error) {
		if connErr != nil {
			a.send(newErrorResponse(req.Seq, req.Command, "connection to debugger failed: "+connErr.Error()))
			return
		}
		v, ok := a.lookupVariable(frameID, expr)
		if !ok {
			a.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("unable to evaluate %q", expr)))
			return
		}
		resp := &dap.EvaluateResponse{Response: newResponse(req.Seq, req.Command)}
		resp.Body.Result = v.Value
		resp.Body.Type = v.Type
		if len(v.Children) > 0 {
			resp.Body.VariablesReference = a.session.Handles.Add(v)
		}
		a.send(resp)
	})
}

// lookupVariable resolves a hover expression against the named frame's
// arguments and locals, falling back to any known thread when the client
// does not say which frame it means.
func (a *Adapter) lookupVariable(frameID int, name string) (backend.Variable, bool) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()

	search := func(t backend.Thread) (backend.Variable, bool) {
		if t.Function == nil {
			return backend.Variable{}, false
		}
		for _, v := range t.Function.Locals {
			if v.Name == name {
				return v, true
			}
		}
		for _, v := range t.Function.Args {
			if v.Name == name {
				return v, true
			}
		}
		return backend.Variable{}, false
	}

	if t, ok := a.snapshots[frameID]; ok {
		return search(t)
	}
	for _, t := range a.snapshots {
		if v, ok := search(t); ok {
			return v, true
		}
	}
	return backend.Variable{}, false
}

func (a *Adapter) onDisconnect(req *dap.DisconnectRequest) {
	// Benign even after termination.
	a.shutdownBackend()
	a.send(&dap.DisconnectResponse{Response: newResponse(req.Seq, req.Command)})
}

func (a *Adapter) onTerminate(req *dap.TerminateRequest) {
	terminated := a.shutdownBackend()
	a.send(&dap.TerminateResponse{Response: newResponse(req.Seq, req.Command)})
	if terminated {
		a.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
	}
}

// shutdownBackend moves the session to Terminated and closes the command
// channel, failing everything still in flight. It reports whether this call
// performed the transition.
func (a *Adapter) shutdownBackend() bool {
	terminated := a.session.Terminate()
	a.closeBackend()
	a.gate.Reject(gate.ErrConnectionFailed)
	return terminated
}
