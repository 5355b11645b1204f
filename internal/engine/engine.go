// Package engine wires the decoder pool, buffer manager, mixer and tracker
// into a playback engine driven by a play queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/buffer"
	"github.com/llehouerou/wavecore/internal/decoder"
	"github.com/llehouerou/wavecore/internal/errmsg"
	"github.com/llehouerou/wavecore/internal/metrics"
	"github.com/llehouerou/wavecore/internal/mixer"
	"github.com/llehouerou/wavecore/internal/ringbuffer"
	"github.com/llehouerou/wavecore/internal/tracker"
)

var (
	// ErrEmptyQueue is returned by operations that need a playing passage.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrUnknownPassage is returned for a passage that is not queued.
	ErrUnknownPassage = errors.New("unknown passage")
	// ErrClosed is returned by Run on a closed engine.
	ErrClosed = errors.New("engine closed")
)

// Config holds the engine settings.
type Config struct {
	Buffer  buffer.Config
	Mixer   mixer.Config
	Tracker tracker.Config
	Pool    decoder.PoolConfig

	// RingFrames is the capacity of the output ring buffer.
	RingFrames int
	// TickInterval is how often the mixer refills the ring buffer.
	TickInterval time.Duration
	// GraceFrames is the startup window during which empty device reads are
	// not counted as underruns.
	GraceFrames int
	// Lookahead is the number of not yet playing passages decoded ahead.
	Lookahead int
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Buffer:       buffer.DefaultConfig(),
		Mixer:        mixer.DefaultConfig(),
		Tracker:      tracker.DefaultConfig(),
		Pool:         decoder.DefaultPoolConfig(),
		RingFrames:   8192,
		TickInterval: 10 * time.Millisecond,
		GraceFrames:  4096,
		Lookahead:    2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RingFrames <= 0 {
		c.RingFrames = d.RingFrames
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.GraceFrames < 0 {
		c.GraceFrames = 0
	}
	if c.Lookahead <= 0 {
		c.Lookahead = d.Lookahead
	}
	return c
}

// Deps are the collaborators of an engine. Only Output is required.
type Deps struct {
	Output    Output
	Timelines tracker.Source
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

// Engine is a single-stream playback engine.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	out     Output
	metrics *metrics.Metrics

	buffers *buffer.Manager
	pool    *decoder.Pool
	mixer   *mixer.Mixer
	tracker *tracker.Tracker
	ring    *ringbuffer.RingBuffer
	scratch []audio.Frame

	// flush asks the tick goroutine, the only ring producer, to drop the
	// frames not yet played.
	flush    atomic.Bool
	overruns uint64

	// mu guards the queue. It is never held while calling into the mixer,
	// the buffer registry or the decoder pool.
	mu    sync.Mutex
	queue []*queued

	advancing      atomic.Bool
	advancePending atomic.Bool

	subsMu sync.RWMutex
	subs   []*Subscription

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	closed  atomic.Bool
}

// New creates an engine. Call Run to start playback processing.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	rate := cfg.Buffer.SampleRate
	if rate <= 0 {
		rate = audio.StandardRate
	}
	cfg.Buffer.SampleRate = rate
	cfg.Mixer.SampleRate = rate

	e := &Engine{
		cfg:     cfg,
		log:     deps.Log.With().Str("component", "engine").Logger(),
		out:     deps.Output,
		metrics: deps.Metrics,
		buffers: buffer.NewManager(cfg.Buffer, deps.Log),
		mixer:   mixer.New(cfg.Mixer, deps.Log),
		ring:    ringbuffer.New(cfg.RingFrames),
		done:    make(chan struct{}),
	}
	e.scratch = make([]audio.Frame, e.ring.Cap())
	e.pool = decoder.NewPool(cfg.Pool, e.buffers, deps.Log)
	e.tracker = tracker.New(cfg.Tracker, deps.Timelines, e.durationMs, deps.Log)
	if e.out == nil {
		e.out = NewClockOutput(rate, 1024)
	}
	return e
}

func (e *Engine) durationMs(id uuid.UUID) (int64, bool) {
	b, ok := e.buffers.Get(id)
	if !ok {
		return 0, false
	}
	total := b.TotalFrames()
	if total < 0 {
		return 0, false
	}
	return audio.FramesToMs(total, b.SampleRate()), true
}

// Run starts the output and the engine goroutines and blocks until ctx is
// cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.done)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()
	if e.closed.Load() {
		cancel()
	}

	if err := e.out.Start(e.ring); err != nil {
		e.publishError(ErrorEvent{Operation: errmsg.OpOutput, Err: err})
		return fmt.Errorf("start output: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pool.Run(ctx) })
	g.Go(func() error { return e.tracker.Run(ctx) })
	g.Go(func() error { return e.tickLoop(ctx) })
	g.Go(func() error { return e.bufferLoop(ctx) })
	g.Go(func() error { return e.notificationLoop(ctx) })
	err := g.Wait()

	if cerr := e.out.Close(); cerr != nil {
		e.log.Warn().Err(cerr).Msg("close output")
	}
	e.buffers.Clear()
	e.buffers.Close()
	e.closeSubscriptions()
	e.log.Debug().Msg("engine stopped")
	return err
}

// Close stops playback and waits for Run to return.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.Stop()
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		e.closeSubscriptions()
		return nil
	}
	cancel()
	<-e.done
	return nil
}

func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.ring.Underruns():
			e.metrics.Underrun()
			e.log.Warn().Msg("output underrun")
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick refills the ring buffer from the mixer.
func (e *Engine) tick() {
	if e.flush.Swap(false) {
		e.ring.Flush()
	}
	if free := e.ring.Free(); free > 0 {
		res := e.mixer.Mix(e.scratch[:min(free, len(e.scratch))])
		if res.Frames > 0 {
			e.ring.PushSlice(e.scratch[:res.Frames])
			if id, _, ok := e.mixer.Position(); ok {
				e.metrics.Played(id.String(), float64(res.Frames)/float64(e.cfg.Mixer.SampleRate))
			}
		}
		e.dispatch(res.Events)
	}

	snap := e.mixer.Snapshot()
	e.ring.SetAudioExpected(snap.State != mixer.Idle && !snap.Paused)

	stats := e.ring.Stats()
	e.metrics.Overrun(stats.Overruns - e.overruns)
	e.overruns = stats.Overruns
	e.metrics.SetRingFill(e.ring.Len())
	e.metrics.SetBuffered(e.buffers.Len())
}

func (e *Engine) bufferLoop(ctx context.Context) error {
	for {
		ev, ok := e.buffers.Events().Next(ctx)
		if !ok {
			return nil
		}
		switch ev := ev.(type) {
		case buffer.ReadyForStart:
			e.log.Debug().
				Str("passage", ev.PassageID.String()).
				Dur("buffered", ev.Buffered).
				Msg("passage ready")
			e.dispatch(e.advance())
		case buffer.DecodeComplete:
			e.dispatch(e.advance())
		case buffer.DecodeFailed:
			e.decodeFailed(ev)
		}
	}
}

func (e *Engine) notificationLoop(ctx context.Context) error {
	for {
		n, ok := e.tracker.Notifications().Next(ctx)
		if !ok {
			return nil
		}
		switch n := n.(type) {
		case tracker.CurrentSongChanged:
			e.publish(func(s *Subscription) {
				s.sendSong(CurrentSongChanged{
					PassageID: n.PassageID,
					SongID:    n.SongID,
					Position:  time.Duration(n.PositionMs) * time.Millisecond,
				})
			})
		case tracker.PlaybackProgress:
			e.publish(func(s *Subscription) {
				s.sendProgress(PlaybackProgress{
					PassageID: n.PassageID,
					Position:  time.Duration(n.PositionMs) * time.Millisecond,
					Duration:  time.Duration(n.DurationMs) * time.Millisecond,
				})
			})
		}
	}
}

// dispatch delivers mixer events to the tracker and applies them to the
// queue. Events produced while handling are dispatched in turn.
func (e *Engine) dispatch(events []mixer.Event) {
	for len(events) > 0 {
		e.tracker.Post(events...)
		var more []mixer.Event
		for _, ev := range events {
			more = append(more, e.handle(ev)...)
		}
		events = more
	}
}

func (e *Engine) handle(ev mixer.Event) []mixer.Event {
	switch ev := ev.(type) {
	case mixer.PassageStarted:
		e.passageStarted(ev.PassageID)
	case mixer.PassageCompleted:
		return e.passageCompleted(ev)
	case mixer.CrossfadeStarted:
		e.log.Debug().
			Str("from", ev.From.String()).
			Str("to", ev.To.String()).
			Int64("overlap", ev.OverlapFrames).
			Msg("crossfade started")
	case mixer.Starved:
		e.metrics.Starved()
		e.log.Warn().
			Str("passage", ev.PassageID.String()).
			Int64("position_ms", ev.PositionMs).
			Msg("decoder behind playback, output paused")
	case mixer.Recovered:
		e.log.Info().
			Str("passage", ev.PassageID.String()).
			Int64("position_ms", ev.PositionMs).
			Msg("playback resumed after starvation")
	}
	return nil
}

func (e *Engine) passageStarted(id uuid.UUID) {
	e.mu.Lock()
	q := e.find(id)
	if q == nil {
		e.mu.Unlock()
		return
	}
	q.started = true
	cont := q.request(decoder.PriorityCurrent)
	cont.Continuation = true
	fx := e.rescheduleLocked()
	path := q.Path
	e.mu.Unlock()

	if promoted, err := e.buffers.Promote(id); err == nil && promoted {
		fx.submit = append(fx.submit, submission{req: cont})
	}
	if err := e.buffers.MarkPlaying(id); err != nil {
		e.log.Warn().Err(err).Str("passage", id.String()).Msg("mark playing")
	}
	e.apply(fx)
	e.log.Info().Str("passage", id.String()).Str("path", path).Msg("passage started")
	e.publish(func(s *Subscription) {
		s.sendStarted(PassageStarted{PassageID: id, Path: path})
	})
}

func (e *Engine) passageCompleted(ev mixer.PassageCompleted) []mixer.Event {
	e.mu.Lock()
	var path string
	if q := e.find(ev.PassageID); q != nil {
		path = q.Path
	}
	fx := e.removeLocked(ev.PassageID)
	fx.merge(e.rescheduleLocked())
	e.mu.Unlock()

	if ev.Completed {
		_ = e.buffers.MarkExhausted(ev.PassageID)
	}
	e.apply(fx)
	events := e.advance()
	snapshot := e.snapshot()

	e.metrics.PassageFinished(ev.PassageID.String(), ev.Completed)
	e.log.Info().
		Str("passage", ev.PassageID.String()).
		Bool("completed", ev.Completed).
		Msg("passage finished")
	e.publish(func(s *Subscription) {
		s.sendCompleted(PassageCompleted{
			PassageID: ev.PassageID,
			Path:      path,
			Position:  time.Duration(ev.PositionMs) * time.Millisecond,
			Completed: ev.Completed,
		})
		s.sendQueue(QueueChanged{Queue: snapshot})
	})
	return events
}

func (e *Engine) decodeFailed(ev buffer.DecodeFailed) {
	e.metrics.DecodeFailed()

	e.mu.Lock()
	q := e.find(ev.PassageID)
	if q == nil {
		e.mu.Unlock()
		return
	}
	path, inMixer := q.Path, q.inMixer
	var fx effects
	if !inMixer {
		fx = e.removeLocked(q.PassageID)
		fx.merge(e.rescheduleLocked())
	}
	e.mu.Unlock()

	var events []mixer.Event
	if inMixer {
		events = e.evict(ev.PassageID)
	} else {
		e.apply(fx)
		events = e.advance()
	}
	snapshot := e.snapshot()

	e.log.Error().Err(ev.Err).Str("passage", ev.PassageID.String()).Str("path", path).Msg("skipping passage")
	e.publish(func(s *Subscription) {
		s.sendError(ErrorEvent{Operation: errmsg.OpDecode, PassageID: ev.PassageID, Path: path, Err: ev.Err})
		s.sendQueue(QueueChanged{Queue: snapshot})
	})
	e.dispatch(events)
}

// evict takes a failed passage out of the mixer, wherever it is.
func (e *Engine) evict(id uuid.UUID) []mixer.Event {
	for {
		snap := e.mixer.Snapshot()
		switch {
		case snap.Current == id:
			return e.skipInMixer(id)
		case snap.Next != id:
			// Already left the mixer: its completion is being handled.
			return nil
		case snap.State == mixer.Crossfading:
			// Already fading in: drop both.
			events := e.skipInMixer(snap.Current)
			return append(events, e.skipInMixer(id)...)
		}
		if err := e.mixer.ClearNext(id); err == nil {
			e.mu.Lock()
			fx := e.removeLocked(id)
			fx.merge(e.rescheduleLocked())
			e.mu.Unlock()
			e.apply(fx)
			return e.advance()
		}
		// The crossfade began in the meantime: look again.
	}
}

// skipInMixer drops id from the mixer if it is still the current passage.
func (e *Engine) skipInMixer(id uuid.UUID) []mixer.Event {
	events := e.mixer.Skip(id)
	if len(events) > 0 {
		e.flush.Store(true)
	}
	return events
}

// Subscribe creates a new event subscription.
func (e *Engine) Subscribe() *Subscription {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	sub := newSubscription()
	if e.closed.Load() {
		sub.close()
		return sub
	}
	e.subs = append(e.subs, sub)
	return sub
}

func (e *Engine) publish(fn func(s *Subscription)) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, s := range e.subs {
		fn(s)
	}
}

func (e *Engine) publishError(ev ErrorEvent) {
	e.publish(func(s *Subscription) { s.sendError(ev) })
}

func (e *Engine) closeSubscriptions() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, s := range e.subs {
		s.close()
	}
	e.subs = nil
}
