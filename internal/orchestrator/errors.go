package orchestrator

// ErrorCode is the orchestrator's result-code enum. It is a value returned
// from operations, not a Go error, mirroring the one-of-eight closed set
// every HTTP handler maps to a status code.
type ErrorCode int

const (
	OK ErrorCode = iota
	Cancelled
	CouldNotFindConfiguration
	CouldNotParseConfiguration
	DatabaseConnectionRefused
	ContentNotFound
	ContinueTaskFailed
	RestartNodeFailed
)

func (e ErrorCode) String() string {
	switch e {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case CouldNotFindConfiguration:
		return "COULD_NOT_FIND_CONFIGURATION"
	case CouldNotParseConfiguration:
		return "COULD_NOT_PARSE_CONFIGURATION"
	case DatabaseConnectionRefused:
		return "DATABASE_CONNECTION_REFUSED"
	case ContentNotFound:
		return "CONTENT_NOT_FOUND"
	case ContinueTaskFailed:
		return "CONTINUE_TASK_FAILED"
	case RestartNodeFailed:
		return "RESTART_NODE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// State is the orchestrator's own lifecycle, distinct from any task's.
type State int

const (
	Stopped State = iota
	Running
	Errored
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Errored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
