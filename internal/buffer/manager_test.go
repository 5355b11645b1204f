package buffer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/audio"
)

func newTestManager() *Manager {
	return NewManager(DefaultConfig(), zerolog.Nop())
}

func appendDuration(m *Manager, b *Buffer, d time.Duration) {
	n := int(audio.FramesFor(d, audio.StandardRate))
	b.Append(make([]audio.Frame, n))
	m.NotifySamplesAppended(b.ID())
}

func readyEvents(m *Manager) []ReadyForStart {
	var out []ReadyForStart
	for _, e := range m.Events().Drain() {
		if r, ok := e.(ReadyForStart); ok {
			out = append(out, r)
		}
	}
	return out
}

// startPlaying marks a throwaway passage as played so that the regular
// threshold applies.
func startPlaying(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.MarkPlaying(m.RegisterDecoding(uuid.New(), Options{}).ID()); err != nil {
		t.Fatalf("MarkPlaying() error = %v", err)
	}
	m.Events().Drain()
}

func TestConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantReady  time.Duration
		wantPrefix time.Duration
	}{
		{"zero value", Config{}, 3 * time.Second, 15 * time.Second},
		{"prefix raised to threshold", Config{ReadyThreshold: 20 * time.Second}, 20 * time.Second, 20 * time.Second},
		{"explicit short prefix", Config{ReadyThreshold: 4 * time.Second, PrefixDuration: time.Second}, 4 * time.Second, 4 * time.Second},
		{"longer prefix kept", Config{PrefixDuration: 30 * time.Second}, 3 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.withDefaults()
			if got.ReadyThreshold != tt.wantReady {
				t.Errorf("ReadyThreshold = %v, want %v", got.ReadyThreshold, tt.wantReady)
			}
			if got.PrefixDuration != tt.wantPrefix {
				t.Errorf("PrefixDuration = %v, want %v", got.PrefixDuration, tt.wantPrefix)
			}
			if got.SampleRate != audio.StandardRate {
				t.Errorf("SampleRate = %d, want %d", got.SampleRate, audio.StandardRate)
			}
		})
	}
}

func TestManager_RegisterIsIdempotent(t *testing.T) {
	m := newTestManager()
	id := uuid.New()

	a := m.RegisterDecoding(id, Options{})
	b := m.RegisterDecoding(id, Options{Policy: PolicyPrefix})
	if a != b {
		t.Error("second RegisterDecoding() returned a new buffer")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManager_ReadyForStartOnce(t *testing.T) {
	m := newTestManager()
	startPlaying(t, m)

	b := m.RegisterDecoding(uuid.New(), Options{})
	appendDuration(m, b, 2900*time.Millisecond)
	if got := readyEvents(m); len(got) != 0 {
		t.Fatalf("ready below threshold: %v", got)
	}
	if b.State() != Decoding {
		t.Errorf("State() = %v, want %v", b.State(), Decoding)
	}

	appendDuration(m, b, 200*time.Millisecond)
	events := readyEvents(m)
	if len(events) != 1 {
		t.Fatalf("got %d ReadyForStart, want 1", len(events))
	}
	if events[0].PassageID != b.ID() {
		t.Errorf("PassageID = %v, want %v", events[0].PassageID, b.ID())
	}
	if events[0].Buffered < 3*time.Second {
		t.Errorf("Buffered = %v, want at least 3s", events[0].Buffered)
	}
	if b.State() != Ready {
		t.Errorf("State() = %v, want %v", b.State(), Ready)
	}

	for range 5 {
		appendDuration(m, b, time.Second)
	}
	if got := readyEvents(m); len(got) != 0 {
		t.Errorf("ReadyForStart posted again: %v", got)
	}
	if !b.ReadyNotified() {
		t.Error("ReadyNotified() = false")
	}
}

func TestManager_FirstPassageThreshold(t *testing.T) {
	m := newTestManager()
	if m.EverPlayed() {
		t.Error("EverPlayed() = true on a new manager")
	}
	if m.ThresholdFor() != 500*time.Millisecond {
		t.Errorf("ThresholdFor() = %v, want 500ms", m.ThresholdFor())
	}

	first := m.RegisterDecoding(uuid.New(), Options{})
	appendDuration(m, first, 600*time.Millisecond)
	if got := readyEvents(m); len(got) != 1 {
		t.Fatalf("got %d ReadyForStart for the first passage, want 1", len(got))
	}

	if err := m.MarkPlaying(first.ID()); err != nil {
		t.Fatalf("MarkPlaying() error = %v", err)
	}
	if m.ThresholdFor() != 3*time.Second {
		t.Errorf("ThresholdFor() = %v, want 3s", m.ThresholdFor())
	}

	second := m.RegisterDecoding(uuid.New(), Options{})
	appendDuration(m, second, 600*time.Millisecond)
	if got := readyEvents(m); len(got) != 0 {
		t.Error("reduced threshold applied to a later passage")
	}

	m.Remove(first.ID())
	if !m.EverPlayed() {
		t.Error("EverPlayed() reset after Remove")
	}
}

func TestManager_ShortPassageReadyOnComplete(t *testing.T) {
	m := newTestManager()
	startPlaying(t, m)

	b := m.RegisterDecoding(uuid.New(), Options{})
	appendDuration(m, b, time.Second)
	if got := readyEvents(m); len(got) != 0 {
		t.Fatalf("ready below threshold: %v", got)
	}

	m.NotifyDecodeComplete(b.ID())
	events := m.Events().Drain()
	if len(events) != 2 {
		t.Fatalf("got %d events, want ReadyForStart then DecodeComplete", len(events))
	}
	if _, ok := events[0].(ReadyForStart); !ok {
		t.Errorf("events[0] = %T, want ReadyForStart", events[0])
	}
	dc, ok := events[1].(DecodeComplete)
	if !ok {
		t.Fatalf("events[1] = %T, want DecodeComplete", events[1])
	}
	if dc.Frames != audio.StandardRate {
		t.Errorf("Frames = %d, want %d", dc.Frames, audio.StandardRate)
	}
	if !b.Complete() {
		t.Error("Complete() = false")
	}

	m.NotifyDecodeComplete(b.ID())
	if n := m.Events().Len(); n != 0 {
		t.Errorf("second NotifyDecodeComplete posted %d events", n)
	}
}

func TestManager_PrefixStopIsReady(t *testing.T) {
	m := NewManager(Config{ReadyThreshold: 3 * time.Second, PrefixDuration: 3 * time.Second}, zerolog.Nop())
	startPlaying(t, m)

	// The decoder stopped short of the threshold: nothing more will come
	// until the passage is promoted, so it must be startable as is.
	b := m.RegisterDecoding(uuid.New(), Options{Policy: PolicyPrefix})
	appendDuration(m, b, 2500*time.Millisecond)
	if got := readyEvents(m); len(got) != 0 {
		t.Fatalf("ready below threshold: %v", got)
	}

	if !b.StopAtPrefix() {
		t.Fatal("StopAtPrefix() = false on a prefix buffer")
	}
	m.NotifySamplesAppended(b.ID())
	if got := readyEvents(m); len(got) != 1 {
		t.Fatalf("got %d ReadyForStart after the prefix stopped, want 1", len(got))
	}
	if b.State() != Ready {
		t.Errorf("State() = %v, want %v", b.State(), Ready)
	}
}

func TestManager_MarkFailed(t *testing.T) {
	m := newTestManager()
	b := m.RegisterDecoding(uuid.New(), Options{})
	boom := errors.New("corrupt frame")

	m.MarkFailed(b.ID(), boom)
	m.MarkFailed(b.ID(), boom)

	events := m.Events().Drain()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 DecodeFailed", len(events))
	}
	f, ok := events[0].(DecodeFailed)
	if !ok {
		t.Fatalf("events[0] = %T, want DecodeFailed", events[0])
	}
	if !errors.Is(f.Err, boom) {
		t.Errorf("Err = %v, want %v", f.Err, boom)
	}
	if b.State() != Failed {
		t.Errorf("State() = %v, want %v", b.State(), Failed)
	}
	if !errors.Is(b.Err(), boom) {
		t.Errorf("Buffer.Err() = %v, want %v", b.Err(), boom)
	}
	if PassageOf(f) != b.ID() {
		t.Errorf("PassageOf() = %v, want %v", PassageOf(f), b.ID())
	}
}

func TestManager_RemoveInvalidates(t *testing.T) {
	m := newTestManager()
	b := m.RegisterDecoding(uuid.New(), Options{})

	m.Remove(b.ID())
	if _, ok := m.Get(b.ID()); ok {
		t.Error("Get() found a removed buffer")
	}
	if !b.Invalidated() {
		t.Error("Invalidated() = false after Remove")
	}

	appendDuration(m, b, 5*time.Second)
	m.NotifyDecodeComplete(b.ID())
	if n := m.Events().Len(); n != 0 {
		t.Errorf("removed buffer posted %d events", n)
	}
	if err := m.MarkPlaying(b.ID()); !errors.Is(err, ErrUnknownPassage) {
		t.Errorf("MarkPlaying() error = %v, want %v", err, ErrUnknownPassage)
	}
}

func TestManager_Promote(t *testing.T) {
	m := newTestManager()
	b := m.RegisterDecoding(uuid.New(), Options{Policy: PolicyPrefix})
	if !b.StopAtPrefix() {
		t.Fatal("StopAtPrefix() = false on a prefix buffer")
	}

	cont, err := m.Promote(b.ID())
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if !cont {
		t.Error("Promote() = false, want a continuation")
	}

	if _, err := m.Promote(uuid.New()); !errors.Is(err, ErrUnknownPassage) {
		t.Errorf("Promote(unknown) error = %v, want %v", err, ErrUnknownPassage)
	}
}

func TestManager_ClearAndExhausted(t *testing.T) {
	m := newTestManager()
	a := m.RegisterDecoding(uuid.New(), Options{})
	if err := m.MarkExhausted(a.ID()); err != nil {
		t.Fatalf("MarkExhausted() error = %v", err)
	}
	if a.State() != Exhausted {
		t.Errorf("State() = %v, want %v", a.State(), Exhausted)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", m.Len())
	}
	if !a.Invalidated() {
		t.Error("Invalidated() = false after Clear")
	}
}
