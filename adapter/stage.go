package adapter

// Stage is the lifecycle position of a session.
type Stage int

const (
	StageCreated Stage = iota
	StageInitializing
	StageInitialized
	StageLaunching
	StageRunning
	StageTerminated
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageInitializing:
		return "initializing"
	case StageInitialized:
		return "initialized"
	case StageLaunching:
		return "launching"
	case StageRunning:
		return "running"
	case StageTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
