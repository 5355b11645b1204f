package buffer

// State is the lifecycle state of a passage buffer.
//
//	┌──────────┐  threshold   ┌────────┐  mark playing  ┌─────────┐
//	│ Decoding │ ───────────▶ │ Ready  │ ─────────────▶ │ Playing │
//	└──────────┘              └────────┘                └─────────┘
//	     │                                                   │
//	     │ decode error                        played to end │
//	     ▼                                                   ▼
//	┌──────────┐                                       ┌───────────┐
//	│  Failed  │                                       │ Exhausted │
//	└──────────┘                                       └───────────┘
//
// Decoding continues in the background after Ready and Playing; use
// Buffer.Complete to know whether every frame has been appended.
type State int32

const (
	Decoding State = iota
	Ready
	Playing
	Exhausted
	Failed
)

// String returns the state name for debugging.
func (s State) String() string {
	switch s {
	case Decoding:
		return "Decoding"
	case Ready:
		return "Ready"
	case Playing:
		return "Playing"
	case Exhausted:
		return "Exhausted"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true if no more frames will be read from the buffer.
func (s State) IsTerminal() bool {
	return s == Exhausted || s == Failed
}

// PolicyKind selects how much of a passage is decoded ahead of playback.
type PolicyKind int32

const (
	// PolicyFull decodes the whole passage. Used for the current passage so
	// that seeking anywhere is instant.
	PolicyFull PolicyKind = iota
	// PolicyPrefix decodes only the first part of a queued passage.
	PolicyPrefix
)

// String returns the policy name.
func (k PolicyKind) String() string {
	switch k {
	case PolicyFull:
		return "full"
	case PolicyPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}
