package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/fade"
	"github.com/llehouerou/wavecore/internal/mailbox"
)

// ErrUnknownPassage is returned for operations on an unregistered passage.
var ErrUnknownPassage = errors.New("unknown passage")

// Config holds the buffering thresholds.
type Config struct {
	// ReadyThreshold is the buffered duration required before a passage may start.
	ReadyThreshold time.Duration
	// FirstPassageThreshold replaces ReadyThreshold until anything has played.
	FirstPassageThreshold time.Duration
	// PrefixDuration is how much of a PolicyPrefix passage is decoded.
	PrefixDuration time.Duration
	SampleRate     int
}

// DefaultConfig returns the default buffering thresholds.
func DefaultConfig() Config {
	return Config{
		ReadyThreshold:        3000 * time.Millisecond,
		FirstPassageThreshold: 500 * time.Millisecond,
		PrefixDuration:        15 * time.Second,
		SampleRate:            audio.StandardRate,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadyThreshold <= 0 {
		c.ReadyThreshold = d.ReadyThreshold
	}
	if c.FirstPassageThreshold <= 0 {
		c.FirstPassageThreshold = d.FirstPassageThreshold
	}
	if c.PrefixDuration <= 0 {
		c.PrefixDuration = d.PrefixDuration
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	// A prefix shorter than the ready threshold would never become ready.
	c.PrefixDuration = max(c.PrefixDuration, c.ReadyThreshold)
	return c
}

// Options describe a passage being registered.
type Options struct {
	Policy  PolicyKind
	FadeIn  fade.Fade
	FadeOut fade.Fade
	// TotalFrames is the expected length if already known, 0 otherwise.
	TotalFrames int64
}

// Manager is the registry of passage buffers.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	events *mailbox.Mailbox[Event]

	mu      sync.Mutex
	buffers map[uuid.UUID]*Buffer

	everPlayed atomic.Bool
}

// NewManager creates an empty registry.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "buffer").Logger(),
		events:  mailbox.New[Event](),
		buffers: make(map[uuid.UUID]*Buffer),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Events returns the mailbox on which buffer events are posted.
func (m *Manager) Events() *mailbox.Mailbox[Event] { return m.events }

// RegisterDecoding creates the buffer for a passage. Registering an id twice
// returns the existing buffer.
func (m *Manager) RegisterDecoding(id uuid.UUID, opts Options) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[id]; ok {
		return b
	}
	b := newBuffer(id, m.cfg.SampleRate, opts, m.cfg.PrefixDuration)
	m.buffers[id] = b
	m.log.Debug().
		Str("passage", id.String()).
		Stringer("policy", opts.Policy).
		Msg("buffer registered")
	return b
}

// Get returns the buffer of a passage.
func (m *Manager) Get(id uuid.UUID) (*Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[id]
	return b, ok
}

// Len returns the number of registered buffers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// EverPlayed reports whether any passage has started playing.
func (m *Manager) EverPlayed() bool { return m.everPlayed.Load() }

// ThresholdFor returns the readiness threshold currently in effect.
func (m *Manager) ThresholdFor() time.Duration {
	if m.everPlayed.Load() {
		return m.cfg.ReadyThreshold
	}
	return m.cfg.FirstPassageThreshold
}

// NotifySamplesAppended re-evaluates readiness after the decoder appended
// frames. A prefix decode that stopped at its limit is ready whatever it
// holds. ReadyForStart is posted at most once per buffer.
func (m *Manager) NotifySamplesAppended(id uuid.UUID) {
	b, ok := m.Get(id)
	if !ok || b.Invalidated() {
		return
	}
	if b.BufferedDuration() < m.ThresholdFor() && !b.prefixDone.Load() {
		return
	}
	m.markReady(b)
}

// NotifyDecodeComplete marks the buffer fully decoded. A passage shorter than
// the readiness threshold becomes ready here.
func (m *Manager) NotifyDecodeComplete(id uuid.UUID) {
	b, ok := m.Get(id)
	if !ok || b.Invalidated() {
		return
	}
	if !b.markComplete() {
		return
	}
	m.log.Debug().
		Str("passage", id.String()).
		Int64("frames", b.Frames()).
		Msg("decode complete")
	m.markReady(b)
	m.events.Post(DecodeComplete{PassageID: id, Frames: b.Frames()})
}

func (m *Manager) markReady(b *Buffer) {
	if b.readyNotified.Swap(true) {
		return
	}
	b.state.CompareAndSwap(int32(Decoding), int32(Ready))
	buffered := b.BufferedDuration()
	m.log.Debug().
		Str("passage", b.id.String()).
		Dur("buffered", buffered).
		Msg("ready for start")
	m.events.Post(ReadyForStart{PassageID: b.id, Buffered: buffered})
}

// MarkFailed records a decode failure and posts DecodeFailed.
func (m *Manager) MarkFailed(id uuid.UUID, err error) {
	b, ok := m.Get(id)
	if !ok || b.Invalidated() {
		return
	}
	if b.State() == Failed {
		return
	}
	b.fail(err)
	m.log.Warn().Err(err).Str("passage", id.String()).Msg("decode failed")
	m.events.Post(DecodeFailed{PassageID: id, Err: err})
}

// MarkPlaying moves a buffer to Playing. The first call disables the reduced
// first-passage threshold for good.
func (m *Manager) MarkPlaying(id uuid.UUID) error {
	b, ok := m.Get(id)
	if !ok {
		return ErrUnknownPassage
	}
	b.setState(Playing)
	m.everPlayed.Store(true)
	return nil
}

// MarkExhausted records that the mixer read the last frame of the passage.
func (m *Manager) MarkExhausted(id uuid.UUID) error {
	b, ok := m.Get(id)
	if !ok {
		return ErrUnknownPassage
	}
	b.setState(Exhausted)
	return nil
}

// Promote switches a passage to PolicyFull. It returns true when the prefix
// decode has already stopped and a continuation decode must be submitted.
func (m *Manager) Promote(id uuid.UUID) (bool, error) {
	b, ok := m.Get(id)
	if !ok {
		return false, ErrUnknownPassage
	}
	return b.promote(), nil
}

// Remove drops a buffer. Frames still being decoded for it are discarded.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	b, ok := m.buffers[id]
	delete(m.buffers, id)
	m.mu.Unlock()
	if ok {
		b.invalidated.Store(true)
	}
}

// Clear removes every buffer.
func (m *Manager) Clear() {
	m.mu.Lock()
	old := m.buffers
	m.buffers = make(map[uuid.UUID]*Buffer)
	m.mu.Unlock()
	for _, b := range old {
		b.invalidated.Store(true)
	}
}

// Close closes the event mailbox.
func (m *Manager) Close() {
	m.events.Close()
}
