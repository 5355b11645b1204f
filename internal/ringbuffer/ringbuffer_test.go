package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavecore/internal/audio"
)

func frame(v float32) audio.Frame { return audio.Frame{v, -v} }

func TestNew_RoundsUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{1, 1},
		{3, 4},
		{1000, 1024},
		{4096, 4096},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.in).Cap(), "New(%d)", tt.in)
	}
}

func TestPushPop_FIFO(t *testing.T) {
	rb := New(8)
	for i := range 5 {
		require.True(t, rb.Push(frame(float32(i))))
	}
	assert.Equal(t, 5, rb.Len())
	assert.Equal(t, 3, rb.Free())

	for i := range 5 {
		assert.Equal(t, frame(float32(i)), rb.Pop())
	}
	assert.Equal(t, 0, rb.Len())
}

func TestPush_FullBufferDropsAndCountsOverrun(t *testing.T) {
	rb := New(4)
	for i := range 4 {
		require.True(t, rb.Push(frame(float32(i))))
	}
	assert.False(t, rb.Push(frame(9)))
	assert.Equal(t, 4, rb.Len(), "fill level never exceeds capacity")

	n := rb.PushSlice([]audio.Frame{frame(1), frame(2)})
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(3), rb.Stats().Overruns)

	// Consumer path is unaffected
	assert.Equal(t, frame(0), rb.Pop())
}

func TestPushSlice_PartialWrite(t *testing.T) {
	rb := New(4)
	rb.Push(frame(1))
	n := rb.PushSlice([]audio.Frame{frame(2), frame(3), frame(4), frame(5)})
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(1), rb.Stats().Overruns)
}

func TestPop_EmptyReturnsSilence(t *testing.T) {
	rb := New(4)
	assert.Equal(t, audio.Silence, rb.Pop())
	assert.Equal(t, uint64(0), rb.Stats().Underruns, "starting empty is not an underrun")
}

// Regression: underruns used to be counted per missing frame, which produced
// rates above 100%.
func TestPop_CoalescesUnderrunsPerTransition(t *testing.T) {
	rb := New(16)
	rb.Push(frame(1))
	rb.Push(frame(2))

	rb.Pop()
	rb.Pop()
	for range 1000 {
		rb.Pop()
	}
	assert.Equal(t, uint64(1), rb.Stats().Underruns)

	// Refill and drain again: second transition
	rb.Push(frame(3))
	rb.Pop()
	for range 50 {
		rb.Pop()
	}
	s := rb.Stats()
	assert.Equal(t, uint64(2), s.Underruns)
	assert.LessOrEqual(t, s.UnderrunRate(), 1.0)
}

func TestReadInto_CoalescesUnderruns(t *testing.T) {
	rb := New(16)
	for i := range 4 {
		rb.Push(frame(float32(i)))
	}

	dst := make([][2]float64, 10)
	n := rb.ReadInto(dst)
	assert.Equal(t, 4, n)
	assert.Equal(t, [2]float64{}, dst[9])
	assert.Equal(t, uint64(1), rb.Stats().Underruns)

	rb.ReadInto(dst)
	rb.ReadInto(dst)
	assert.Equal(t, uint64(1), rb.Stats().Underruns)
	assert.Equal(t, uint64(26), rb.Stats().EmptyFrames)
}

func TestUnderrun_SuppressedDuringGrace(t *testing.T) {
	rb := New(16)
	rb.ArmGrace(100)
	rb.Push(frame(1))
	rb.Pop()
	rb.Pop()
	assert.True(t, rb.InGrace())
	assert.Equal(t, uint64(0), rb.Stats().Underruns)
}

func TestUnderrun_SuppressedWhileAudioNotExpected(t *testing.T) {
	rb := New(16)
	rb.SetAudioExpected(false)
	rb.Push(frame(1))
	rb.Pop()
	rb.Pop()
	assert.Equal(t, uint64(0), rb.Stats().Underruns)

	// Resuming with an empty buffer does not report the earlier transition.
	rb.SetAudioExpected(true)
	rb.Pop()
	assert.Equal(t, uint64(0), rb.Stats().Underruns)

	rb.Push(frame(2))
	rb.Pop()
	rb.Pop()
	assert.Equal(t, uint64(1), rb.Stats().Underruns)
}

func TestUnderruns_SignalChannel(t *testing.T) {
	rb := New(4)
	rb.Push(frame(1))
	rb.Pop()
	rb.Pop()

	select {
	case <-rb.Underruns():
	default:
		t.Fatal("expected underrun signal")
	}
}

func TestFlush_DiscardsPushedFrames(t *testing.T) {
	rb := New(8)
	rb.Push(frame(1))
	rb.Push(frame(2))
	rb.Flush()
	rb.Push(frame(3))

	assert.Equal(t, frame(3), rb.Pop())
	assert.Equal(t, 0, rb.Len())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 200000
	rb := New(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; {
			if rb.Push(frame(float32(i))) {
				i++
			}
		}
	}()

	next := float32(1)
	for next <= total {
		if rb.Len() == 0 {
			continue
		}
		f := rb.Pop()
		require.Equal(t, next, f[0], "frames must arrive in order")
		next++
	}
	wg.Wait()
	assert.GreaterOrEqual(t, rb.Len(), 0)
	assert.LessOrEqual(t, rb.Len(), rb.Cap())
}
