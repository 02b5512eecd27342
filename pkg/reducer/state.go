package reducer

// State is the lifecycle state of one stream.
//
//	Idle ──first byte──▶ Receiving ──done──▶ Completed
//	                         │
//	                         ├──error / transport failure──▶ Failed
//	                         │
//	                         └──Cancel──▶ Cancelled
//
// Completed, Failed and Cancelled are absorbing.
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateCompleted
	StateFailed
	StateCancelled
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
