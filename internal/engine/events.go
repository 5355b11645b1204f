package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/errmsg"
)

// PassageStarted is emitted when a passage becomes audible.
type PassageStarted struct {
	PassageID uuid.UUID
	Path      string
}

// PassageCompleted is emitted when a passage leaves playback. Completed is
// false when it was skipped, removed or stopped before its end.
type PassageCompleted struct {
	PassageID uuid.UUID
	Path      string
	Position  time.Duration
	Completed bool
}

// CurrentSongChanged is emitted when playback crosses a song boundary.
// SongID is nil while playing a gap between songs.
type CurrentSongChanged struct {
	PassageID uuid.UUID
	SongID    *uuid.UUID
	Position  time.Duration
}

// PlaybackProgress is the periodic position report.
type PlaybackProgress struct {
	PassageID uuid.UUID
	Position  time.Duration
	// Duration is zero while the passage length is unknown.
	Duration time.Duration
}

// QueueChanged is emitted when the queue contents change.
type QueueChanged struct {
	Queue []QueueItem
}

// ErrorEvent is emitted when an error occurs during playback.
type ErrorEvent struct {
	Operation errmsg.Op
	PassageID uuid.UUID
	Path      string
	Err       error
}
