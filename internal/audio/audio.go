// Package audio defines the frame type and the time/frame conversions shared
// by every stage of the playback pipeline.
package audio

import "time"

// StandardRate is the sample rate every passage is decoded or resampled to.
const StandardRate = 44100

// Frame is one stereo sample pair in [-1, 1].
type Frame [2]float32

// Silence is the zero frame.
var Silence Frame

// Scale returns f multiplied by gain.
func (f Frame) Scale(gain float32) Frame {
	return Frame{f[0] * gain, f[1] * gain}
}

// Clamp limits both channels to [-1, 1].
func (f Frame) Clamp() Frame {
	return Frame{clamp(f[0]), clamp(f[1])}
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// FramesFor converts a duration to a frame count at rate.
func FramesFor(d time.Duration, rate int) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}

// DurationOf converts a frame count at rate to a duration.
func DurationOf(frames int64, rate int) time.Duration {
	if frames <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// FramesToMs converts a frame count at rate to whole milliseconds.
func FramesToMs(frames int64, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return frames * 1000 / int64(rate)
}

// MsToFrames converts milliseconds to a frame count at rate.
func MsToFrames(ms int64, rate int) int64 {
	if ms <= 0 {
		return 0
	}
	return ms * int64(rate) / 1000
}
