package visitguard

// State is the guard's view of one key.
type State uint8

const (
	Idle State = iota
	InFlight
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

func parseState(s string) (State, bool) {
	switch s {
	case "idle":
		return Idle, true
	case "in_flight":
		return InFlight, true
	case "completed":
		return Completed, true
	}
	return Idle, false
}
