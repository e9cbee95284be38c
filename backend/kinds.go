package backend

// Kind identifies a debugger command or notification on the wire.
type Kind string

const (
	KindRun              Kind = "run"
	KindSetBreakpoint    Kind = "set-breakpoint"
	KindRemoveBreakpoint Kind = "remove-breakpoint"
	KindListThreads      Kind = "list-threads"
	KindStepOver         Kind = "step-over"
	KindStepInto         Kind = "step-into"
	KindStepReturn       Kind = "step-return"
	KindVersion          Kind = "version"
	KindThreadCreate     Kind = "thread-create"

	// Notification-only kinds. The debugger emits these unsolicited; the
	// adapter never issues them as commands.
	KindBreakpointHit Kind = "breakpoint-hit"
	KindProcessExited Kind = "process-exited"
	KindOutput        Kind = "output"
)
