package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/decoder"
	"github.com/llehouerou/wavecore/internal/mixer"
)

// Enqueue appends passages to the queue and returns their ids. Entries
// without a PassageID get a fresh one. Nothing is queued if any entry has an
// unsupported format or is already queued.
func (e *Engine) Enqueue(entries ...Entry) ([]uuid.UUID, error) {
	for _, ent := range entries {
		if !decoder.Supported(ent.Path) {
			return nil, fmt.Errorf("enqueue %s: %w", ent.Path, decoder.ErrUnsupportedFormat)
		}
	}

	added := make([]*queued, 0, len(entries))
	ids := make([]uuid.UUID, 0, len(entries))
	for _, ent := range entries {
		if ent.PassageID == uuid.Nil {
			ent.PassageID = uuid.New()
		}
		if slices.Contains(ids, ent.PassageID) {
			return nil, fmt.Errorf("enqueue %s: passage %s given twice", ent.Path, ent.PassageID)
		}
		added = append(added, &queued{Entry: ent})
		ids = append(ids, ent.PassageID)
	}

	e.mu.Lock()
	for _, q := range added {
		if e.find(q.PassageID) != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("enqueue %s: passage %s already queued", q.Path, q.PassageID)
		}
	}
	e.queue = append(e.queue, added...)
	fx := e.rescheduleLocked()
	e.mu.Unlock()

	e.apply(fx)
	events := e.advance()
	snapshot := e.snapshot()

	e.log.Debug().Int("added", len(ids)).Int("queued", len(snapshot)).Msg("enqueued")
	e.publish(func(s *Subscription) { s.sendQueue(QueueChanged{Queue: snapshot}) })
	e.dispatch(events)
	return ids, nil
}

// Remove drops a passage from the queue. Removing the playing passage skips
// it. A passage already fading in cannot be removed.
func (e *Engine) Remove(id uuid.UUID) error {
	e.mu.Lock()
	q := e.find(id)
	if q == nil {
		e.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrUnknownPassage)
	}
	inMixer := q.inMixer
	var fx effects
	if !inMixer {
		fx = e.removeLocked(id)
		fx.merge(e.rescheduleLocked())
	}
	e.mu.Unlock()

	if inMixer {
		if e.mixer.Snapshot().Current == id {
			e.dispatch(e.skipInMixer(id))
			return nil
		}
		if err := e.mixer.ClearNext(id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		e.mu.Lock()
		fx = e.removeLocked(id)
		fx.merge(e.rescheduleLocked())
		e.mu.Unlock()
	}
	e.apply(fx)
	events := e.advance()
	snapshot := e.snapshot()

	e.publish(func(s *Subscription) { s.sendQueue(QueueChanged{Queue: snapshot}) })
	e.dispatch(events)
	return nil
}

// Skip ends the current passage. If the next passage is buffered it takes
// over at once; otherwise it starts as soon as it is ready.
func (e *Engine) Skip() error {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return ErrEmptyQueue
	}
	head := *e.queue[0]
	var fx effects
	if !head.inMixer {
		// Still buffering: drop it without touching the mixer.
		fx = e.removeLocked(head.PassageID)
		fx.merge(e.rescheduleLocked())
	}
	e.mu.Unlock()

	if head.inMixer {
		e.dispatch(e.skipInMixer(head.PassageID))
		return nil
	}
	e.apply(fx)
	events := e.advance()
	snapshot := e.snapshot()
	e.publish(func(s *Subscription) {
		s.sendCompleted(PassageCompleted{PassageID: head.PassageID, Path: head.Path})
		s.sendQueue(QueueChanged{Queue: snapshot})
	})
	e.dispatch(events)
	return nil
}

// Stop ends playback and clears the queue.
func (e *Engine) Stop() {
	e.mu.Lock()
	removed := e.queue
	e.queue = nil
	e.mu.Unlock()

	events := e.mixer.Stop()
	e.flush.Store(true)
	e.ring.SetAudioExpected(false)
	paths := make(map[uuid.UUID]string, len(removed))
	for _, q := range removed {
		paths[q.PassageID] = q.Path
		e.discard(q.PassageID)
	}

	if len(events) > 0 {
		e.tracker.Post(events...)
	}
	for _, ev := range events {
		if c, ok := ev.(mixer.PassageCompleted); ok {
			e.metrics.PassageFinished(c.PassageID.String(), false)
			e.publish(func(s *Subscription) {
				s.sendCompleted(PassageCompleted{
					PassageID: c.PassageID,
					Path:      paths[c.PassageID],
					Position:  time.Duration(c.PositionMs) * time.Millisecond,
				})
			})
		}
	}
	if len(removed) > 0 {
		e.publish(func(s *Subscription) { s.sendQueue(QueueChanged{}) })
	}
	e.log.Info().Int("cleared", len(removed)).Msg("playback stopped")
}

// Pause suspends output. It returns false if already paused.
func (e *Engine) Pause() bool {
	if !e.mixer.Pause() {
		return false
	}
	e.ring.SetAudioExpected(false)
	return true
}

// Resume restarts output with a short fade-in. It returns false if not
// paused.
func (e *Engine) Resume() bool {
	if !e.mixer.Resume() {
		return false
	}
	if e.mixer.State() != mixer.Idle {
		e.ring.SetAudioExpected(true)
	}
	return true
}

// Seek moves the playing passage to pos. A crossfade in progress ends with
// the outgoing passage dropped.
func (e *Engine) Seek(pos time.Duration) error {
	events, err := e.mixer.Seek(audio.FramesFor(pos, e.cfg.Mixer.SampleRate))
	if err != nil {
		return ErrEmptyQueue
	}
	e.flush.Store(true)
	e.dispatch(events)
	return nil
}

// Queue returns a snapshot of the queue, the playing passage first.
func (e *Engine) Queue() []QueueItem {
	return e.snapshot()
}

// Position returns the lead passage and its playback position.
func (e *Engine) Position() (uuid.UUID, time.Duration, bool) {
	id, frame, ok := e.mixer.Position()
	if !ok {
		return uuid.Nil, 0, false
	}
	return id, audio.DurationOf(frame, e.cfg.Mixer.SampleRate), true
}

// Paused reports whether output is paused.
func (e *Engine) Paused() bool {
	return e.mixer.Snapshot().Paused
}
