package mixer

// State is the mixer state.
//
//	┌──────┐  Start   ┌───────────────┐  position >= trigger  ┌─────────────┐
//	│ Idle │ ───────▶ │ SinglePassage │ ────────────────────▶ │ Crossfading │
//	└──────┘          └───────────────┘                       └─────────────┘
//	    ▲                │        ▲         outgoing ends or overlap done │
//	    └── last ends ───┘        └───────────────────────────────────────┘
type State int

const (
	Idle State = iota
	SinglePassage
	Crossfading
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SinglePassage:
		return "SinglePassage"
	case Crossfading:
		return "Crossfading"
	default:
		return "Unknown"
	}
}
