package drill

// State is the drill-execution state of a session. All transitions happen
// under the session mutex; timer callbacks from superseded states are
// no-ops.
type State int

const (
	// no repeat in flight
	StateIdle State = iota
	// readiness handshake sent, collecting acks
	StateAwaitingAcks
	// start command sent, collecting shots
	StateRunning
	// manual stop issued, grace window for in-flight shots
	StateAwaitingGrace
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAcks:
		return "awaitingAcks"
	case StateRunning:
		return "running"
	case StateAwaitingGrace:
		return "awaitingGrace"
	default:
		return "unknown"
	}
}
