package buffer

import (
	"time"

	"github.com/google/uuid"
)

// Event is emitted by the Manager.
type Event interface {
	passageID() uuid.UUID
}

// ReadyForStart is emitted once per buffer when enough audio is decoded to
// start playback without an immediate underrun.
type ReadyForStart struct {
	PassageID uuid.UUID
	Buffered  time.Duration
}

// DecodeComplete is emitted when every frame of a passage has been appended.
type DecodeComplete struct {
	PassageID uuid.UUID
	Frames    int64
}

// DecodeFailed is emitted when a passage cannot be decoded.
type DecodeFailed struct {
	PassageID uuid.UUID
	Err       error
}

func (e ReadyForStart) passageID() uuid.UUID  { return e.PassageID }
func (e DecodeComplete) passageID() uuid.UUID { return e.PassageID }
func (e DecodeFailed) passageID() uuid.UUID   { return e.PassageID }

// PassageOf returns the passage an event refers to.
func PassageOf(e Event) uuid.UUID { return e.passageID() }
