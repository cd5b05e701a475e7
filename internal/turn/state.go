package turn

// State is the controller's position in a turn.
type State int32

const (
	Idle State = iota
	Listening
	Processing
	// Cooldown drops straggling fragments after a response.
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}
