package mixer

import "github.com/google/uuid"

// Event is produced by a mix step or a control operation. Events are
// returned to the caller, which delivers them after the mixer guard is
// released.
type Event interface {
	mixerEvent()
}

// PositionUpdate reports the position of the lead passage. It is emitted
// every PositionInterval generated frames and immediately after a seek.
type PositionUpdate struct {
	PassageID  uuid.UUID
	PositionMs int64
	Seek       bool
}

// PassageStarted is emitted when a passage becomes audible as the lead
// passage, either by Start, by a crossfade beginning, or by a gapless
// hand-over.
type PassageStarted struct {
	PassageID  uuid.UUID
	PositionMs int64
}

// CrossfadeStarted is emitted when the outgoing and incoming passages start
// overlapping.
type CrossfadeStarted struct {
	From          uuid.UUID
	To            uuid.UUID
	OverlapFrames int64
}

// PassageCompleted is emitted when a passage leaves the mixer. Completed is
// false when it was skipped or stopped before its end.
type PassageCompleted struct {
	PassageID  uuid.UUID
	PositionMs int64
	Completed  bool
}

// Starved is emitted when a still-decoding passage runs dry and output stops.
type Starved struct {
	PassageID  uuid.UUID
	PositionMs int64
}

// Recovered is emitted when enough audio is buffered again after Starved.
type Recovered struct {
	PassageID  uuid.UUID
	PositionMs int64
}

func (PositionUpdate) mixerEvent()   {}
func (PassageStarted) mixerEvent()   {}
func (CrossfadeStarted) mixerEvent() {}
func (PassageCompleted) mixerEvent() {}
func (Starved) mixerEvent()          {}
func (Recovered) mixerEvent()        {}

// Result is the outcome of a mix step.
type Result struct {
	// Frames is the number of frames written to dst. Fewer than requested
	// means output stopped: idle, paused, or starved.
	Frames int
	Events []Event
}
