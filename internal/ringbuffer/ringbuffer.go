// Package ringbuffer implements the lock-free frame queue that sits between
// the mixer and the audio device callback.
package ringbuffer

import (
	"sync/atomic"

	"github.com/llehouerou/wavecore/internal/audio"
)

// RingBuffer is a lock-free single-producer, single-consumer queue of stereo
// frames.
//
// It uses two monotonically increasing atomic counters and a power-of-two
// sized backing array. The producer stores writePos after writing a frame;
// the consumer loads writePos before reading, so it always observes fully
// written frames.
//
// Thread assignment:
//   - Push, PushSlice, Flush: producer (mixer tick) only
//   - Pop, ReadInto: consumer (device callback) only
//   - everything else: any goroutine
type RingBuffer struct {
	writePos atomic.Uint64
	_pad1    [56]byte
	readPos  atomic.Uint64
	_pad2    [56]byte

	buf  []audio.Frame
	mask uint64

	// flushTo holds writePos+1 of a pending flush request, 0 when none.
	flushTo atomic.Uint64

	wasEmpty       atomic.Bool
	audioExpected  atomic.Bool
	graceRemaining atomic.Int64

	underruns  atomic.Uint64
	overruns   atomic.Uint64
	reads      atomic.Uint64
	popped     atomic.Uint64
	emptyReads atomic.Uint64

	underrunCh chan struct{}
}

// Stats is a snapshot of the ring buffer counters.
type Stats struct {
	Underruns    uint64 // non-empty -> empty transitions while audio was expected
	Overruns     uint64 // frames rejected because the buffer was full
	Reads        uint64 // consumer calls (one per Pop or ReadInto)
	FramesPopped uint64
	EmptyFrames  uint64 // silent frames handed out because the buffer was empty
}

// UnderrunRate returns underrun events per consumer read, in [0, 1].
func (s Stats) UnderrunRate() float64 {
	if s.Reads == 0 {
		return 0
	}
	return float64(s.Underruns) / float64(s.Reads)
}

// New creates a ring buffer with capacity rounded up to the next power of two.
func New(capacity int) *RingBuffer {
	size := 1
	for size < capacity {
		size <<= 1
	}
	rb := &RingBuffer{
		buf:        make([]audio.Frame, size),
		mask:       uint64(size - 1),
		underrunCh: make(chan struct{}, 1),
	}
	// An initially empty buffer has not transitioned from non-empty.
	rb.wasEmpty.Store(true)
	rb.audioExpected.Store(true)
	return rb
}

// Cap returns the capacity in frames.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Len returns the number of frames available to the consumer.
func (rb *RingBuffer) Len() int {
	return int(rb.writePos.Load() - rb.readPos.Load())
}

// Free returns the number of frames the producer can push.
func (rb *RingBuffer) Free() int {
	return len(rb.buf) - rb.Len()
}

// Push appends one frame. On a full buffer the frame is dropped and counted
// as an overrun; Push never blocks.
func (rb *RingBuffer) Push(f audio.Frame) bool {
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	if w-r >= uint64(len(rb.buf)) {
		rb.overruns.Add(1)
		return false
	}
	rb.buf[w&rb.mask] = f
	rb.writePos.Store(w + 1)
	return true
}

// PushSlice appends as many frames as fit and returns how many were written.
// Frames that do not fit are dropped and counted as overruns.
func (rb *RingBuffer) PushSlice(frames []audio.Frame) int {
	if len(frames) == 0 {
		return 0
	}
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	free := uint64(len(rb.buf)) - (w - r)
	n := uint64(len(frames))
	if n > free {
		rb.overruns.Add(n - free)
		n = free
	}
	for i := range n {
		rb.buf[(w+i)&rb.mask] = frames[i]
	}
	rb.writePos.Store(w + n)
	return int(n)
}

// Flush asks the consumer to discard every frame pushed so far. The request
// is applied on the consumer's next read.
func (rb *RingBuffer) Flush() {
	rb.flushTo.Store(rb.writePos.Load() + 1)
}

// Pop returns the next frame, or a silent frame when the buffer is empty.
func (rb *RingBuffer) Pop() audio.Frame {
	rb.reads.Add(1)
	inGrace := rb.consumeGrace(1)
	r := rb.applyFlush(rb.readPos.Load())
	w := rb.writePos.Load()
	if w == r {
		rb.emptyReads.Add(1)
		rb.noteEmpty(inGrace)
		return audio.Silence
	}
	f := rb.buf[r&rb.mask]
	rb.readPos.Store(r + 1)
	rb.wasEmpty.Store(false)
	rb.popped.Add(1)
	return f
}

// ReadInto fills dst with the next frames, padding with silence when the
// buffer runs out. It returns the number of real frames copied. A single call
// raises at most one underrun.
func (rb *RingBuffer) ReadInto(dst [][2]float64) int {
	rb.reads.Add(1)
	inGrace := rb.consumeGrace(int64(len(dst)))
	r := rb.applyFlush(rb.readPos.Load())
	w := rb.writePos.Load()

	n := min(uint64(len(dst)), w-r)
	for i := range n {
		f := rb.buf[(r+i)&rb.mask]
		dst[i][0] = float64(f[0])
		dst[i][1] = float64(f[1])
	}
	if n > 0 {
		rb.readPos.Store(r + n)
		rb.wasEmpty.Store(false)
		rb.popped.Add(n)
	}
	if int(n) < len(dst) {
		for i := int(n); i < len(dst); i++ {
			dst[i] = [2]float64{}
		}
		rb.emptyReads.Add(uint64(len(dst)) - n)
		rb.noteEmpty(inGrace)
	}
	return int(n)
}

func (rb *RingBuffer) applyFlush(r uint64) uint64 {
	t := rb.flushTo.Swap(0)
	if t == 0 {
		return r
	}
	if target := t - 1; target > r {
		rb.readPos.Store(target)
		return target
	}
	return r
}

func (rb *RingBuffer) consumeGrace(frames int64) bool {
	if rb.graceRemaining.Load() <= 0 {
		return false
	}
	rb.graceRemaining.Add(-frames)
	return true
}

// noteEmpty records an empty read. Only the first empty read after the buffer
// held data counts, and only when an underrun is meaningful.
func (rb *RingBuffer) noteEmpty(inGrace bool) {
	if rb.wasEmpty.Load() {
		return
	}
	rb.wasEmpty.Store(true)
	if inGrace || !rb.audioExpected.Load() {
		return
	}
	rb.underruns.Add(1)
	select {
	case rb.underrunCh <- struct{}{}:
	default:
	}
}

// ArmGrace starts a startup grace window: for the next frames consumed, empty
// reads are not classified as underruns.
func (rb *RingBuffer) ArmGrace(frames int) {
	rb.graceRemaining.Store(int64(frames))
}

// InGrace reports whether the startup grace window is still open.
func (rb *RingBuffer) InGrace() bool {
	return rb.graceRemaining.Load() > 0
}

// SetAudioExpected toggles underrun classification. It is cleared while
// playback is intentionally paused or stopped.
func (rb *RingBuffer) SetAudioExpected(expected bool) {
	rb.audioExpected.Store(expected)
}

// AudioExpected reports whether empty reads are currently classified.
func (rb *RingBuffer) AudioExpected() bool {
	return rb.audioExpected.Load()
}

// Underruns delivers a coalesced signal whenever an underrun is recorded.
func (rb *RingBuffer) Underruns() <-chan struct{} {
	return rb.underrunCh
}

// Stats returns a snapshot of the counters.
func (rb *RingBuffer) Stats() Stats {
	return Stats{
		Underruns:    rb.underruns.Load(),
		Overruns:     rb.overruns.Load(),
		Reads:        rb.reads.Load(),
		FramesPopped: rb.popped.Load(),
		EmptyFrames:  rb.emptyReads.Load(),
	}
}
