package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/ringbuffer"
)

// Output consumes the ring buffer on the device side.
type Output interface {
	Start(ring *ringbuffer.RingBuffer) error
	Close() error
}

var (
	speakerMu          sync.Mutex
	speakerInitialized bool
)

// SpeakerOutput plays through the system audio device.
type SpeakerOutput struct {
	Rate       int
	BufferSize int
}

// NewSpeakerOutput returns a device output with the given callback size in
// frames.
func NewSpeakerOutput(rate, bufferSize int) *SpeakerOutput {
	return &SpeakerOutput{Rate: rate, BufferSize: bufferSize}
}

// Start implements Output.
func (o *SpeakerOutput) Start(ring *ringbuffer.RingBuffer) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()
	// The speaker is initialized once and kept for the process lifetime.
	if !speakerInitialized {
		if err := speaker.Init(beep.SampleRate(o.Rate), o.BufferSize); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		speakerInitialized = true
	}
	speaker.Play(ringStreamer{ring: ring})
	return nil
}

// Close implements Output.
func (o *SpeakerOutput) Close() error {
	speaker.Clear()
	return nil
}

// ringStreamer feeds the speaker from the ring buffer. It never ends: an
// empty ring yields silence.
type ringStreamer struct {
	ring *ringbuffer.RingBuffer
}

func (s ringStreamer) Stream(samples [][2]float64) (int, bool) {
	s.ring.ReadInto(samples)
	return len(samples), true
}

func (s ringStreamer) Err() error { return nil }

// ClockOutput drains the ring in real time without a device. It stands in
// for the speaker on headless hosts and in tests.
type ClockOutput struct {
	Rate       int
	BufferSize int

	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	frames int64
}

// NewClockOutput returns an output pulling bufferSize frames per period.
func NewClockOutput(rate, bufferSize int) *ClockOutput {
	return &ClockOutput{Rate: rate, BufferSize: bufferSize}
}

// Start implements Output.
func (o *ClockOutput) Start(ring *ringbuffer.RingBuffer) error {
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	period := audio.DurationOf(int64(o.BufferSize), o.Rate)
	go func() {
		defer close(o.done)
		buf := make([][2]float64, o.BufferSize)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				n := ring.ReadInto(buf)
				o.mu.Lock()
				o.frames += int64(n)
				o.mu.Unlock()
			}
		}
	}()
	return nil
}

// Frames returns the number of real frames consumed so far.
func (o *ClockOutput) Frames() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

// Close implements Output.
func (o *ClockOutput) Close() error {
	if o.stop == nil {
		return nil
	}
	close(o.stop)
	<-o.done
	o.stop = nil
	return nil
}
