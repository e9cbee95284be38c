package backend

// Payload shapes exchanged with the debugger. Thread, Function and Variable
// are pass-through snapshots: they are recreated on every list-threads call
// and have no identity across calls.

// SetBreakpointArgs asks the debugger to place a source-line breakpoint.
// The id is chosen by the adapter, never by the debugger.
type SetBreakpointArgs struct {
	ID   int    `json:"id"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// RemoveBreakpointArgs asks the debugger to delete a breakpoint by id.
type RemoveBreakpointArgs struct {
	ID int `json:"id"`
}

// StepArgs selects the thread a step command applies to.
type StepArgs struct {
	ThreadID int `json:"threadId"`
}

// VersionResult is the debugger handshake payload.
type VersionResult struct {
	Version string `json:"version"`
}

// ThreadCreatePayload announces a new debuggee thread.
type ThreadCreatePayload struct {
	ThreadID int `json:"threadId"`
}

// BreakpointHitPayload announces that a thread stopped.
type BreakpointHitPayload struct {
	ThreadID     int    `json:"threadId"`
	BreakpointID int    `json:"breakpointId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ProcessExitedPayload announces debuggee termination.
type ProcessExitedPayload struct {
	Status int `json:"status"`
}

// OutputPayload carries debuggee output. Category is one of stdout, stderr
// or console.
type OutputPayload struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// ListThreadsResult is the response payload of a list-threads command.
type ListThreadsResult struct {
	Threads []Thread `json:"threads"`
}

// Thread is the debugger's snapshot of one debuggee thread.
type Thread struct {
	ID       int       `json:"id"`
	File     string    `json:"file"`
	Line     int       `json:"line"`
	PC       uint64    `json:"pc"`
	Function *Function `json:"function,omitempty"`
}

// Function describes the function a thread is currently stopped in.
type Function struct {
	Name   string     `json:"name"`
	Value  uint64     `json:"value"`
	Type   string     `json:"type,omitempty"`
	Args   []Variable `json:"args,omitempty"`
	Locals []Variable `json:"locals,omitempty"`
}

// Variable is one value in a frame, possibly with nested children.
type Variable struct {
	Name     string     `json:"name"`
	Addr     uint64     `json:"addr,omitempty"`
	Type     string     `json:"type,omitempty"`
	RealType string     `json:"realType,omitempty"`
	Value    string     `json:"value"`
	Len      int64      `json:"len,omitempty"`
	Cap      int64      `json:"cap,omitempty"`
	Children []Variable `json:"children,omitempty"`
}
