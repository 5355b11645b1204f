package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversions(t *testing.T) {
	tests := []struct {
		name   string
		ms     int64
		frames int64
	}{
		{"zero", 0, 0},
		{"one second", 1000, 44100},
		{"twenty seconds", 20000, 882000},
		{"eight seconds", 8000, 352800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.frames, MsToFrames(tt.ms, StandardRate))
			assert.Equal(t, tt.ms, FramesToMs(tt.frames, StandardRate))
			assert.Equal(t, tt.frames, FramesFor(time.Duration(tt.ms)*time.Millisecond, StandardRate))
			assert.Equal(t, time.Duration(tt.ms)*time.Millisecond, DurationOf(tt.frames, StandardRate))
		})
	}
}

func TestFrame_Clamp(t *testing.T) {
	assert.Equal(t, Frame{1, -1}, Frame{1.7, -3}.Clamp())
	assert.Equal(t, Frame{0.25, -0.5}, Frame{0.25, -0.5}.Clamp())
}

func TestFrame_Scale(t *testing.T) {
	assert.Equal(t, Frame{0.5, -0.25}, Frame{1, -0.5}.Scale(0.5))
}
