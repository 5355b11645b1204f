package tuner

import (
	"context"
	"errors"
	"time"

	"github.com/llehouerou/wavecore/internal/audio"
)

// ErrDeviceUnavailable is wrapped by sinks that cannot find an output device.
var ErrDeviceUnavailable = errors.New("output device unavailable")

// Format describes the output a sink is opened with.
type Format struct {
	SampleRate int
	BufferSize int
}

// Period returns the callback period of a device consuming BufferSize frames
// per call.
func (f Format) Period() time.Duration {
	return audio.DurationOf(int64(f.BufferSize), f.SampleRate)
}

// Sink is an output device under test. Run calls pull once per device
// period until ctx is done.
type Sink interface {
	Open(f Format) error
	Run(ctx context.Context, pull func(dst [][2]float64)) error
	Close() error
}

// ClockSink simulates a device callback with a ticker.
type ClockSink struct {
	format Format
}

// NewClockSink returns a simulated device.
func NewClockSink() Sink { return &ClockSink{} }

// Open implements Sink.
func (s *ClockSink) Open(f Format) error {
	if f.SampleRate <= 0 || f.BufferSize <= 0 {
		return errors.New("clock sink: invalid format")
	}
	s.format = f
	return nil
}

// Run implements Sink.
func (s *ClockSink) Run(ctx context.Context, pull func(dst [][2]float64)) error {
	buf := make([][2]float64, s.format.BufferSize)
	ticker := time.NewTicker(s.format.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pull(buf)
		}
	}
}

// Close implements Sink.
func (s *ClockSink) Close() error { return nil }
