package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/audio"
)

func ramp(start, n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		v := float32(start + i)
		out[i] = audio.Frame{v, -v}
	}
	return out
}

func TestBuffer_AppendAcrossChunks(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{}, time.Second)

	n := chunkFrames + chunkFrames/2
	if got := b.Append(ramp(0, n)); got != n {
		t.Fatalf("Append() = %d, want %d", got, n)
	}
	if b.Frames() != int64(n) {
		t.Errorf("Frames() = %d, want %d", b.Frames(), n)
	}

	f, ok := b.Frame(chunkFrames)
	if !ok {
		t.Fatal("Frame(chunkFrames) missing")
	}
	if want := (audio.Frame{chunkFrames, -chunkFrames}); f != want {
		t.Errorf("Frame(chunkFrames) = %v, want %v", f, want)
	}
	if _, ok := b.Frame(int64(n)); ok {
		t.Error("Frame past the end should be missing")
	}

	dst := make([]audio.Frame, 10)
	if got := b.Read(chunkFrames-5, dst); got != 10 {
		t.Fatalf("Read() = %d, want 10", got)
	}
	for i, fr := range dst {
		if want := float32(chunkFrames - 5 + i); fr[0] != want {
			t.Errorf("dst[%d] = %v, want %v", i, fr[0], want)
		}
	}
}

func TestBuffer_ReadPastEnd(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{}, time.Second)
	b.Append(ramp(0, 100))
	dst := make([]audio.Frame, 64)

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"read straddling the end", int64(b.Read(64, dst)), 36},
		{"read at the end", int64(b.Read(100, dst)), 0},
		{"read before the start", int64(b.Read(-1, dst)), 0},
		{"available near the end", b.Available(80), 20},
		{"available past the end", b.Available(200), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestBuffer_InvalidatedDropsAppends(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{}, time.Second)
	b.Append(ramp(0, 10))
	b.invalidated.Store(true)

	if got := b.Append(ramp(10, 10)); got != 0 {
		t.Errorf("Append() after invalidation = %d, want 0", got)
	}
	if b.Frames() != 10 {
		t.Errorf("Frames() = %d, want 10", b.Frames())
	}
}

func TestBuffer_TotalFrames(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{}, time.Second)
	if b.TotalFrames() != -1 {
		t.Errorf("TotalFrames() = %d, want -1 while unknown", b.TotalFrames())
	}

	b.SetTotalFrames(500)
	if b.TotalFrames() != 500 {
		t.Errorf("TotalFrames() = %d, want 500", b.TotalFrames())
	}

	b.Append(ramp(0, 480))
	if !b.markComplete() {
		t.Fatal("first markComplete() = false")
	}
	if b.markComplete() {
		t.Error("second markComplete() = true")
	}
	// The decoded length wins once complete.
	if b.TotalFrames() != 480 {
		t.Errorf("TotalFrames() = %d, want 480", b.TotalFrames())
	}
	if got := b.Append(ramp(0, 1)); got != 0 {
		t.Errorf("Append() after completion = %d, want 0", got)
	}
}

func TestBuffer_ConcurrentReaderSeesPublishedFrames(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{}, time.Second)
	const total = 3 * chunkFrames

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i += 1000 {
			b.Append(ramp(i, min(1000, total-i)))
		}
	}()

	dst := make([]audio.Frame, 512)
	var pos int64
	for pos < total {
		n := b.Read(pos, dst)
		for i := range n {
			if dst[i][0] != float32(pos+int64(i)) {
				t.Fatalf("frame %d = %v", pos+int64(i), dst[i][0])
			}
		}
		pos += int64(n)
	}
	wg.Wait()
}

func TestBuffer_PrefixStopAndPromote(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{Policy: PolicyPrefix}, time.Second)
	if b.LimitFrames() != audio.StandardRate {
		t.Errorf("LimitFrames() = %d, want %d", b.LimitFrames(), audio.StandardRate)
	}

	if !b.StopAtPrefix() {
		t.Fatal("StopAtPrefix() = false on a prefix buffer")
	}
	if !b.promote() {
		t.Error("promote() after the prefix stopped should ask for a continuation")
	}
	if b.Policy() != PolicyFull {
		t.Errorf("Policy() = %v, want %v", b.Policy(), PolicyFull)
	}
	if b.LimitFrames() != -1 {
		t.Errorf("LimitFrames() = %d, want -1", b.LimitFrames())
	}
	if b.promote() {
		t.Error("second promote() = true")
	}
}

func TestBuffer_PromoteWhileDecoding(t *testing.T) {
	b := newBuffer(uuid.New(), audio.StandardRate, Options{Policy: PolicyPrefix}, time.Second)

	if b.promote() {
		t.Error("promote() while the decoder runs should not ask for a continuation")
	}
	if b.StopAtPrefix() {
		t.Error("StopAtPrefix() after promotion = true, decoder must keep going")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{Decoding, "Decoding", false},
		{Ready, "Ready", false},
		{Playing, "Playing", false},
		{Exhausted, "Exhausted", true},
		{Failed, "Failed", true},
		{State(99), "Unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}
