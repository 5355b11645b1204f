// Package mixer produces the output stream from one or two passage buffers,
// crossfading between them at a precomputed trigger frame.
package mixer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/fade"
)

var (
	// ErrIdle is returned by operations that need a current passage.
	ErrIdle = errors.New("mixer: no current passage")
	// ErrCrossfading is returned when the next passage is already audible.
	ErrCrossfading = errors.New("mixer: crossfade in progress")
	// ErrBusy is returned by Start when a passage is already playing.
	ErrBusy = errors.New("mixer: passage already playing")
	// ErrNotCurrent is returned by QueueNext when Transition.After is not the
	// current passage.
	ErrNotCurrent = errors.New("mixer: passage is not current")
	// ErrNotQueued is returned by ClearNext for a passage that is not the
	// queued next one.
	ErrNotQueued = errors.New("mixer: passage is not queued")
)

// Source is decoded passage audio addressed by frame position.
// *buffer.Buffer implements it.
type Source interface {
	ID() uuid.UUID
	Frame(pos int64) (audio.Frame, bool)
	// Frames is the number of frames decoded so far.
	Frames() int64
	// TotalFrames is the expected length, -1 when not yet known.
	TotalFrames() int64
	// Complete reports whether Frames will not grow any more.
	Complete() bool
}

// Config holds the mixer timing parameters.
type Config struct {
	SampleRate int
	// ResumeThreshold is how much audio must be buffered ahead before output
	// resumes after starvation.
	ResumeThreshold time.Duration
	// ResumeFade is the master gain ramp applied after Resume.
	ResumeFade time.Duration
	// PositionInterval is the spacing of PositionUpdate events in output time.
	PositionInterval time.Duration
}

// DefaultConfig returns the default mixer configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:       audio.StandardRate,
		ResumeThreshold:  1000 * time.Millisecond,
		ResumeFade:       500 * time.Millisecond,
		PositionInterval: 100 * time.Millisecond,
	}
}

// StartOptions describe how a passage starts playing.
type StartOptions struct {
	// FadeIn is applied when the passage starts on its own, not out of a
	// crossfade.
	FadeIn fade.Fade
	// FadeOut is applied at the end of the passage when nothing is queued.
	FadeOut fade.Fade
	// Position is the starting frame.
	Position int64
}

// Transition describes the crossfade into a queued passage.
type Transition struct {
	// FadeOut is the outgoing passage's fade-out.
	FadeOut fade.Fade
	// FadeIn is the incoming passage's fade-in.
	FadeIn fade.Fade
	// Overlap caps the overlap when non-zero.
	Overlap time.Duration
	// NextFadeOut is the incoming passage's own fade-out, used if nothing is
	// queued after it.
	NextFadeOut fade.Fade
	// After, when set, is the passage that must be current.
	After uuid.UUID
}

type passage struct {
	src Source
	pos int64

	fadeIn        fade.Fade
	fadeOut       fade.Fade
	fadeInFrames  int64
	fadeOutFrames int64
	// ownFadeIn is set when the passage starts from silence rather than out
	// of a crossfade.
	ownFadeIn bool
}

func (p *passage) id() uuid.UUID { return p.src.ID() }

func (p *passage) exhausted() bool {
	return p.src.Complete() && p.pos >= p.src.Frames()
}

// gain returns the passage's own fade gain at its current position.
func (p *passage) gain(fadeOutArmed bool) float32 {
	g := 1.0
	if p.ownFadeIn && p.fadeInFrames > 0 && p.pos < p.fadeInFrames {
		g *= p.fadeIn.Curve.FadeIn(float64(p.pos) / float64(p.fadeInFrames))
	}
	if fadeOutArmed && p.fadeOutFrames > 0 {
		if total := p.src.TotalFrames(); total >= 0 {
			start := total - p.fadeOutFrames
			if p.pos >= start {
				g *= p.fadeOut.Curve.FadeOut(float64(p.pos-start) / float64(p.fadeOutFrames))
			}
		}
	}
	return float32(g)
}

type crossfade struct {
	out     fade.Curve
	in      fade.Curve
	overlap int64 // requested overlap in frames
	length  int64 // effective length, fixed when the crossfade begins
	pos     int64
}

// Mixer is the crossfade state machine. All methods are safe for concurrent
// use; Mix is meant to be called from a single tick goroutine.
type Mixer struct {
	cfg            Config
	log            zerolog.Logger
	resumeFrames   int64
	rampFrames     int64
	positionFrames int64

	mu            sync.Mutex
	state         State
	cur           *passage
	next          *passage
	xf            crossfade
	paused        bool
	starved       bool
	ramp          int64 // frames into the resume ramp, -1 when inactive
	sincePosition int64
}

// New creates an idle mixer.
func New(cfg Config, log zerolog.Logger) *Mixer {
	d := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.ResumeThreshold <= 0 {
		cfg.ResumeThreshold = d.ResumeThreshold
	}
	if cfg.ResumeFade < 0 {
		cfg.ResumeFade = 0
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = d.PositionInterval
	}
	return &Mixer{
		cfg:            cfg,
		log:            log.With().Str("component", "mixer").Logger(),
		resumeFrames:   audio.FramesFor(cfg.ResumeThreshold, cfg.SampleRate),
		rampFrames:     audio.FramesFor(cfg.ResumeFade, cfg.SampleRate),
		positionFrames: max(audio.FramesFor(cfg.PositionInterval, cfg.SampleRate), 1),
		ramp:           -1,
	}
}

func (m *Mixer) frames(d time.Duration) int64 {
	return audio.FramesFor(d, m.cfg.SampleRate)
}

func (m *Mixer) ms(frames int64) int64 {
	return audio.FramesToMs(frames, m.cfg.SampleRate)
}

func (m *Mixer) newPassage(src Source, opts StartOptions) *passage {
	return &passage{
		src:           src,
		pos:           max(opts.Position, 0),
		fadeIn:        opts.FadeIn,
		fadeOut:       opts.FadeOut,
		fadeInFrames:  m.frames(opts.FadeIn.Duration),
		fadeOutFrames: m.frames(opts.FadeOut.Duration),
		ownFadeIn:     opts.Position <= 0,
	}
}

// Start makes src the current passage of an idle mixer.
func (m *Mixer) Start(src Source, opts StartOptions) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		return nil, ErrBusy
	}
	m.cur = m.newPassage(src, opts)
	m.state = SinglePassage
	m.starved = false
	m.sincePosition = 0
	m.log.Debug().
		Str("passage", src.ID().String()).
		Int64("position", m.cur.pos).
		Msg("passage started")
	return []Event{PassageStarted{PassageID: src.ID(), PositionMs: m.ms(m.cur.pos)}}, nil
}

// QueueNext sets the passage that follows the current one. The crossfade
// overlap is the shorter of the outgoing fade-out and the incoming fade-in,
// capped by t.Overlap when non-zero. A pending next passage is replaced.
func (m *Mixer) QueueNext(src Source, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return ErrIdle
	}
	if m.state == Crossfading {
		return ErrCrossfading
	}
	if t.After != uuid.Nil && t.After != m.cur.id() {
		return ErrNotCurrent
	}

	overlap := min(m.frames(t.FadeOut.Duration), m.frames(t.FadeIn.Duration))
	if t.Overlap > 0 {
		overlap = min(overlap, m.frames(t.Overlap))
	}
	m.next = m.newPassage(src, StartOptions{FadeIn: t.FadeIn, FadeOut: t.NextFadeOut})
	m.xf = crossfade{out: t.FadeOut.Curve, in: t.FadeIn.Curve, overlap: overlap}
	m.log.Debug().
		Str("current", m.cur.id().String()).
		Str("next", src.ID().String()).
		Int64("overlap", overlap).
		Int64("trigger", m.triggerLocked()).
		Msg("next passage queued")
	return nil
}

// ClearNext removes id, the queued next passage. It fails once the
// crossfade into it has begun.
func (m *Mixer) ClearNext(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == nil || m.next.id() != id {
		return ErrNotQueued
	}
	if m.state == Crossfading {
		return ErrCrossfading
	}
	m.next = nil
	m.xf = crossfade{}
	return nil
}

// Trigger returns the frame of the current passage at which the crossfade
// begins, or -1 when there is no next passage or the length is unknown.
func (m *Mixer) Trigger() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggerLocked()
}

func (m *Mixer) triggerLocked() int64 {
	if m.cur == nil || m.next == nil || m.xf.overlap <= 0 {
		return -1
	}
	total := m.cur.src.TotalFrames()
	if total < 0 {
		return -1
	}
	return max(total-m.xf.overlap, 0)
}

// Mix fills dst with output frames. It stops early when idle, paused or
// starved; Result.Frames tells how much of dst was written.
func (m *Mixer) Mix(dst []audio.Frame) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	for res.Frames < len(dst) {
		f, ok := m.step(&res.Events)
		if !ok {
			break
		}
		dst[res.Frames] = f
		res.Frames++

		m.sincePosition++
		if m.sincePosition >= m.positionFrames {
			m.sincePosition = 0
			if lead := m.lead(); lead != nil {
				res.Events = append(res.Events, PositionUpdate{
					PassageID:  lead.id(),
					PositionMs: m.ms(lead.pos),
				})
			}
		}
	}
	return res
}

// step produces one frame. Hand-overs between passages loop without
// producing output.
func (m *Mixer) step(events *[]Event) (audio.Frame, bool) {
	for {
		if m.cur == nil || m.paused {
			return audio.Silence, false
		}
		if m.starved {
			if !m.canResume() {
				return audio.Silence, false
			}
			m.starved = false
			if m.rampFrames > 0 {
				m.ramp = 0
			}
			lead := m.lead()
			m.log.Info().Str("passage", lead.id().String()).Msg("buffer recovered, resuming output")
			*events = append(*events, Recovered{PassageID: lead.id(), PositionMs: m.ms(lead.pos)})
		}

		switch m.state {
		case Crossfading:
			if m.xf.pos >= m.xf.length {
				m.endCrossfade(events)
				continue
			}
			cf, ok := m.cur.src.Frame(m.cur.pos)
			if !ok {
				if m.cur.exhausted() {
					m.endCrossfade(events)
					continue
				}
				m.starve(events)
				return audio.Silence, false
			}
			nf, ok := m.next.src.Frame(m.next.pos)
			if !ok && !m.next.exhausted() {
				m.starve(events)
				return audio.Silence, false
			}
			p := float64(m.xf.pos) / float64(m.xf.length)
			gOut := float32(m.xf.out.FadeOut(p))
			gIn := float32(m.xf.in.FadeIn(p))
			out := audio.Frame{
				cf[0]*gOut + nf[0]*gIn,
				cf[1]*gOut + nf[1]*gIn,
			}
			m.cur.pos++
			m.next.pos++
			m.xf.pos++
			return m.master(out), true

		default:
			if trigger := m.triggerLocked(); trigger >= 0 && m.cur.pos >= trigger {
				m.beginCrossfade(events)
				continue
			}
			f, ok := m.cur.src.Frame(m.cur.pos)
			if !ok {
				if m.cur.exhausted() {
					m.finishCurrent(events)
					continue
				}
				m.starve(events)
				return audio.Silence, false
			}
			f = f.Scale(m.cur.gain(m.next == nil))
			m.cur.pos++
			return m.master(f), true
		}
	}
}

// master applies the resume ramp and clamps.
func (m *Mixer) master(f audio.Frame) audio.Frame {
	if m.ramp >= 0 {
		m.ramp++
		f = f.Scale(float32(m.ramp) / float32(m.rampFrames))
		if m.ramp >= m.rampFrames {
			m.ramp = -1
		}
	}
	return f.Clamp()
}

// lead is the passage reported to listeners: the incoming one once a
// crossfade has begun.
func (m *Mixer) lead() *passage {
	if m.state == Crossfading {
		return m.next
	}
	return m.cur
}

func (m *Mixer) canResume() bool {
	ok := func(p *passage) bool {
		return p.src.Complete() || p.src.Frames()-p.pos >= m.resumeFrames
	}
	if !ok(m.cur) {
		return false
	}
	return m.state != Crossfading || ok(m.next)
}

func (m *Mixer) starve(events *[]Event) {
	m.starved = true
	lead := m.lead()
	m.log.Warn().
		Str("passage", lead.id().String()).
		Int64("position_ms", m.ms(lead.pos)).
		Msg("buffer starved, output stopped")
	*events = append(*events, Starved{PassageID: lead.id(), PositionMs: m.ms(lead.pos)})
}

func (m *Mixer) beginCrossfade(events *[]Event) {
	length := m.xf.overlap
	if total := m.cur.src.TotalFrames(); total >= 0 {
		length = min(length, max(total-m.cur.pos, 1))
	}
	m.xf.length = length
	m.xf.pos = 0
	m.next.ownFadeIn = false
	m.state = Crossfading
	m.log.Debug().
		Str("from", m.cur.id().String()).
		Str("to", m.next.id().String()).
		Int64("at", m.cur.pos).
		Int64("length", length).
		Msg("crossfade started")
	*events = append(*events,
		CrossfadeStarted{From: m.cur.id(), To: m.next.id(), OverlapFrames: length},
		PassageStarted{PassageID: m.next.id(), PositionMs: m.ms(m.next.pos)},
	)
}

func (m *Mixer) endCrossfade(events *[]Event) {
	*events = append(*events, PassageCompleted{
		PassageID:  m.cur.id(),
		PositionMs: m.ms(m.cur.pos),
		Completed:  true,
	})
	m.cur = m.next
	m.next = nil
	m.xf = crossfade{}
	m.state = SinglePassage
}

// finishCurrent handles the current passage reaching its end outside a
// crossfade. A queued passage with no overlap follows gaplessly.
func (m *Mixer) finishCurrent(events *[]Event) {
	*events = append(*events, PassageCompleted{
		PassageID:  m.cur.id(),
		PositionMs: m.ms(m.cur.pos),
		Completed:  true,
	})
	if m.next == nil {
		m.cur = nil
		m.state = Idle
		return
	}
	m.cur = m.next
	m.next = nil
	m.xf = crossfade{}
	m.state = SinglePassage
	*events = append(*events, PassageStarted{PassageID: m.cur.id(), PositionMs: m.ms(m.cur.pos)})
}

// dropAll removes every passage, reporting them as not completed.
func (m *Mixer) dropAll(events []Event) []Event {
	for _, p := range []*passage{m.cur, m.next} {
		if p == nil {
			continue
		}
		// A queued passage that never started is not reported.
		if p == m.next && m.state != Crossfading {
			continue
		}
		events = append(events, PassageCompleted{PassageID: p.id(), PositionMs: m.ms(p.pos)})
	}
	m.cur = nil
	m.next = nil
	m.xf = crossfade{}
	m.state = Idle
	m.starved = false
	return events
}

// Stop removes every passage.
func (m *Mixer) Stop() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropAll(nil)
}

// Skip drops id if it is the current passage. The next passage, if any,
// takes over at once: from its crossfade position if it was already audible,
// otherwise from its start with its own fade-in.
func (m *Mixer) Skip(id uuid.UUID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || m.cur.id() != id {
		return nil
	}
	events := []Event{PassageCompleted{PassageID: m.cur.id(), PositionMs: m.ms(m.cur.pos)}}
	wasCrossfading := m.state == Crossfading
	m.cur = m.next
	m.next = nil
	m.xf = crossfade{}
	m.starved = false
	if m.cur == nil {
		m.state = Idle
		return events
	}
	m.state = SinglePassage
	if !wasCrossfading {
		events = append(events, PassageStarted{PassageID: m.cur.id(), PositionMs: m.ms(m.cur.pos)})
	}
	return events
}

// Seek moves the lead passage to frame. An in-progress crossfade is cut
// short: the outgoing passage is dropped.
func (m *Mixer) Seek(frame int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return nil, ErrIdle
	}
	var events []Event
	if m.state == Crossfading {
		events = append(events, PassageCompleted{PassageID: m.cur.id(), PositionMs: m.ms(m.cur.pos)})
		m.cur = m.next
		m.next = nil
		m.xf = crossfade{}
		m.state = SinglePassage
	}

	frame = max(frame, 0)
	if total := m.cur.src.TotalFrames(); total >= 0 {
		frame = min(frame, total)
	}
	m.cur.pos = frame
	m.cur.ownFadeIn = false
	m.starved = false
	m.sincePosition = 0
	return append(events, PositionUpdate{
		PassageID:  m.cur.id(),
		PositionMs: m.ms(frame),
		Seek:       true,
	}), nil
}

// Pause stops output until Resume. It returns false if already paused.
func (m *Mixer) Pause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return false
	}
	m.paused = true
	m.ramp = -1
	return true
}

// Resume restarts output, ramping the master gain from silence to full
// volume over ResumeFade. It returns false if not paused.
func (m *Mixer) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return false
	}
	m.paused = false
	if m.rampFrames > 0 {
		m.ramp = 0
	}
	return true
}

// State returns the current mixer state.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns the lead passage and its frame position.
func (m *Mixer) Position() (uuid.UUID, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead := m.lead()
	if lead == nil {
		return uuid.Nil, 0, false
	}
	return lead.id(), lead.pos, true
}

// Snapshot is a consistent view of the mixer.
type Snapshot struct {
	State           State
	Current         uuid.UUID
	CurrentPosition int64
	Next            uuid.UUID
	NextPosition    int64
	CrossfadePos    int64
	CrossfadeLength int64
	Trigger         int64
	Paused          bool
	Starved         bool
}

// Snapshot returns the mixer state for inspection.
func (m *Mixer) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:           m.state,
		CrossfadePos:    m.xf.pos,
		CrossfadeLength: m.xf.length,
		Trigger:         m.triggerLocked(),
		Paused:          m.paused,
		Starved:         m.starved,
	}
	if m.cur != nil {
		s.Current = m.cur.id()
		s.CurrentPosition = m.cur.pos
	}
	if m.next != nil {
		s.Next = m.next.id()
		s.NextPosition = m.next.pos
	}
	return s
}
