// Package buffer owns the decoded PCM of every active passage and decides when
// a passage has buffered enough to start.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/fade"
)

// chunkFrames is the allocation unit of a buffer (~0.74 s at 44.1 kHz).
const chunkFrames = 1 << 15

type chunk [chunkFrames]audio.Frame

// Buffer holds the interleaved stereo PCM of one passage.
//
// A single decode worker appends; the mixer reads by position without taking
// a lock. Appended frames are published by storing the frame count after the
// data is written, and readers never look past the count they loaded.
type Buffer struct {
	id      uuid.UUID
	rate    int
	fadeIn  fade.Fade
	fadeOut fade.Fade

	prefixFrames int64

	writeMu sync.Mutex // serializes appenders only
	chunks  atomic.Pointer[[]*chunk]
	frames  atomic.Int64

	total         atomic.Int64 // expected frame count, -1 when unknown
	state         atomic.Int32
	policy        atomic.Int32
	complete      atomic.Bool
	invalidated   atomic.Bool
	prefixDone    atomic.Bool
	readyNotified atomic.Bool

	errMu sync.Mutex
	err   error
}

func newBuffer(id uuid.UUID, rate int, opts Options, prefix time.Duration) *Buffer {
	b := &Buffer{
		id:           id,
		rate:         rate,
		fadeIn:       opts.FadeIn,
		fadeOut:      opts.FadeOut,
		prefixFrames: audio.FramesFor(prefix, rate),
	}
	empty := make([]*chunk, 0)
	b.chunks.Store(&empty)
	b.total.Store(-1)
	if opts.TotalFrames > 0 {
		b.total.Store(opts.TotalFrames)
	}
	b.state.Store(int32(Decoding))
	b.policy.Store(int32(opts.Policy))
	return b
}

// ID returns the passage id.
func (b *Buffer) ID() uuid.UUID { return b.id }

// SampleRate returns the rate of the stored frames.
func (b *Buffer) SampleRate() int { return b.rate }

// FadeIn returns the passage fade-in.
func (b *Buffer) FadeIn() fade.Fade { return b.fadeIn }

// FadeOut returns the passage fade-out.
func (b *Buffer) FadeOut() fade.Fade { return b.fadeOut }

// State returns the current decode state.
func (b *Buffer) State() State { return State(b.state.Load()) }

func (b *Buffer) setState(s State) { b.state.Store(int32(s)) }

// Policy returns the buffering policy.
func (b *Buffer) Policy() PolicyKind { return PolicyKind(b.policy.Load()) }

// LimitFrames returns the number of frames the decoder should stop at under
// the current policy, or -1 for no limit.
func (b *Buffer) LimitFrames() int64 {
	if b.Policy() == PolicyPrefix {
		return b.prefixFrames
	}
	return -1
}

// Frames returns the number of frames appended so far.
func (b *Buffer) Frames() int64 { return b.frames.Load() }

// BufferedDuration returns the decoded duration.
func (b *Buffer) BufferedDuration() time.Duration {
	return audio.DurationOf(b.Frames(), b.rate)
}

// Available returns the number of decoded frames at or after pos.
func (b *Buffer) Available(pos int64) int64 {
	return max(b.Frames()-pos, 0)
}

// TotalFrames returns the expected passage length in frames, or -1 when
// unknown. Once decoding completes it is the exact decoded length.
func (b *Buffer) TotalFrames() int64 {
	if b.complete.Load() {
		return b.Frames()
	}
	return b.total.Load()
}

// SetTotalFrames records the expected passage length reported by the decoder.
func (b *Buffer) SetTotalFrames(n int64) {
	if n > 0 {
		b.total.Store(n)
	}
}

// Complete reports whether every frame of the passage has been appended.
func (b *Buffer) Complete() bool { return b.complete.Load() }

// Invalidated reports whether the buffer has been discarded. Decoders stop
// appending to invalidated buffers.
func (b *Buffer) Invalidated() bool { return b.invalidated.Load() }

// ReadyNotified reports whether ReadyForStart has been emitted.
func (b *Buffer) ReadyNotified() bool { return b.readyNotified.Load() }

// Err returns the decode error of a Failed buffer.
func (b *Buffer) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Append copies frames to the end of the buffer and returns how many were
// stored. Appends to an invalidated or completed buffer are discarded.
func (b *Buffer) Append(frames []audio.Frame) int {
	if len(frames) == 0 || b.invalidated.Load() {
		return 0
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.complete.Load() {
		return 0
	}

	chunks := *b.chunks.Load()
	n := b.frames.Load()
	written := 0
	for written < len(frames) {
		idx := int(n / chunkFrames)
		off := int(n % chunkFrames)
		if idx >= len(chunks) {
			grown := make([]*chunk, len(chunks)+1)
			copy(grown, chunks)
			grown[len(chunks)] = new(chunk)
			b.chunks.Store(&grown)
			chunks = grown
		}
		c := copy(chunks[idx][off:], frames[written:])
		written += c
		n += int64(c)
	}
	// Publish after the data is in place.
	b.frames.Store(n)
	return written
}

// Frame returns the frame at pos, or false when pos is not decoded yet.
func (b *Buffer) Frame(pos int64) (audio.Frame, bool) {
	if pos < 0 || pos >= b.frames.Load() {
		return audio.Silence, false
	}
	chunks := *b.chunks.Load()
	return chunks[pos/chunkFrames][pos%chunkFrames], true
}

// Read copies decoded frames starting at pos into dst and returns the count.
func (b *Buffer) Read(pos int64, dst []audio.Frame) int {
	n := b.frames.Load()
	if pos < 0 || pos >= n {
		return 0
	}
	chunks := *b.chunks.Load()
	want := min(int64(len(dst)), n-pos)
	read := int64(0)
	for read < want {
		p := pos + read
		c := copy(dst[read:want], chunks[p/chunkFrames][p%chunkFrames:])
		read += int64(c)
	}
	return int(read)
}

func (b *Buffer) markComplete() bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return !b.complete.Swap(true)
}

// StopAtPrefix is called by a decoder that reached LimitFrames. It returns
// false when the buffer was promoted in the meantime and decoding must go on.
func (b *Buffer) StopAtPrefix() bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.Policy() != PolicyPrefix {
		return false
	}
	b.prefixDone.Store(true)
	return true
}

// promote switches the buffer to PolicyFull and reports whether a new decode
// must be started from the current end of the buffer.
func (b *Buffer) promote() bool {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.Policy() == PolicyFull {
		return false
	}
	b.policy.Store(int32(PolicyFull))
	return b.prefixDone.Swap(false) && !b.complete.Load()
}

func (b *Buffer) fail(err error) {
	b.errMu.Lock()
	b.err = err
	b.errMu.Unlock()
	b.setState(Failed)
}
