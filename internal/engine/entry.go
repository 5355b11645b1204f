package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/buffer"
	"github.com/llehouerou/wavecore/internal/decoder"
	"github.com/llehouerou/wavecore/internal/fade"
)

// Entry is a passage waiting in the play queue.
type Entry struct {
	// PassageID is assigned by Enqueue when zero.
	PassageID uuid.UUID
	Path      string
	// Start and End select part of the file. End is zero for end of file.
	Start time.Duration
	End   time.Duration

	FadeIn  fade.Fade
	FadeOut fade.Fade
	// Overlap caps the crossfade into this passage when non-zero.
	Overlap time.Duration
}

// QueueItem is a snapshot of a queued passage.
type QueueItem struct {
	PassageID uuid.UUID
	Path      string
	// State is the buffer state, Decoding for passages not yet submitted.
	State    buffer.State
	Buffered time.Duration
	// Duration is zero until the decoder knows the passage length.
	Duration time.Duration
	Playing  bool
}

type queued struct {
	Entry

	submitted bool
	priority  decoder.Priority
	// inMixer is set once the passage was handed to the mixer, either as the
	// current or as the queued next passage.
	inMixer bool
	started bool
}

func (q *queued) request(prio decoder.Priority) decoder.Request {
	req := decoder.Request{
		PassageID:  q.PassageID,
		Path:       q.Path,
		StartFrame: audio.FramesFor(q.Start, decoder.StandardRate),
		Priority:   prio,
	}
	if q.End > q.Start {
		req.EndFrame = audio.FramesFor(q.End, decoder.StandardRate)
	}
	return req
}

func (q *queued) options(policy buffer.PolicyKind) buffer.Options {
	opts := buffer.Options{
		Policy:  policy,
		FadeIn:  q.FadeIn,
		FadeOut: q.FadeOut,
	}
	if q.End > q.Start {
		opts.TotalFrames = audio.FramesFor(q.End-q.Start, decoder.StandardRate)
	}
	return opts
}
