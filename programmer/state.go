package programmer

// State is the orchestrator's position in a programming run.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateProgMode
	StateWritingFirmware
	StateErasingVoice
	StateWritingVoice
	StateUpdatingConfig
	StateRunMode
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateProgMode:
		return "prog mode"
	case StateWritingFirmware:
		return "writing firmware"
	case StateErasingVoice:
		return "erasing voice bank"
	case StateWritingVoice:
		return "writing voice data"
	case StateUpdatingConfig:
		return "updating config"
	case StateRunMode:
		return "run mode"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
