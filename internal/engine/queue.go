package engine

import (
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/buffer"
	"github.com/llehouerou/wavecore/internal/decoder"
	"github.com/llehouerou/wavecore/internal/mixer"
)

// effects are the buffer registry and decoder pool calls decided while
// holding e.mu. apply makes them once the lock is released.
type effects struct {
	discard  []uuid.UUID
	submit   []submission
	priority []reprioritization
}

type submission struct {
	// register is nil for a continuation of an already registered buffer.
	register *buffer.Options
	req      decoder.Request
}

type reprioritization struct {
	id   uuid.UUID
	prio decoder.Priority
}

func (fx *effects) merge(o effects) {
	fx.discard = append(fx.discard, o.discard...)
	fx.submit = append(fx.submit, o.submit...)
	fx.priority = append(fx.priority, o.priority...)
}

func (e *Engine) apply(fx effects) {
	e.discard(fx.discard...)
	for _, s := range fx.submit {
		if s.register != nil {
			e.buffers.RegisterDecoding(s.req.PassageID, *s.register)
		}
		e.pool.Submit(s.req)
	}
	for _, r := range fx.priority {
		e.pool.Reprioritize(r.id, r.prio)
	}
	if len(fx.submit) == 0 {
		return
	}

	// A passage removed while its request was being submitted is discarded
	// here, since its own removal may have run first.
	e.mu.Lock()
	stale := lo.FilterMap(fx.submit, func(s submission, _ int) (uuid.UUID, bool) {
		return s.req.PassageID, e.find(s.req.PassageID) == nil
	})
	e.mu.Unlock()
	e.discard(stale...)
}

func (e *Engine) discard(ids ...uuid.UUID) {
	for _, id := range ids {
		e.buffers.Remove(id)
		e.pool.Cancel(id)
	}
}

// advance hands ready passages to the mixer and returns the events to
// dispatch. Only one goroutine advances at a time: a call arriving meanwhile
// makes the running one go round again.
func (e *Engine) advance() []mixer.Event {
	e.advancePending.Store(true)
	var events []mixer.Event
	for e.advancePending.Load() && e.advancing.CompareAndSwap(false, true) {
		for e.advancePending.Swap(false) {
			events = append(events, e.advanceOnce()...)
		}
		e.advancing.Store(false)
	}
	return events
}

func (e *Engine) advanceOnce() []mixer.Event {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil
	}
	head := *e.queue[0]
	var next *queued
	if len(e.queue) > 1 {
		n := *e.queue[1]
		next = &n
	}
	e.mu.Unlock()

	var events []mixer.Event
	if !head.inMixer {
		b, ok := e.ready(head.PassageID)
		if !ok {
			return nil
		}
		started, err := e.mixer.Start(b, mixer.StartOptions{FadeIn: head.FadeIn, FadeOut: head.FadeOut})
		if err != nil {
			// The playing passage's completion advances again.
			return nil
		}
		if !e.claim(head.PassageID) {
			// Removed while starting: it never played.
			e.skipInMixer(head.PassageID)
			return nil
		}
		events = started
		e.ring.ArmGrace(e.cfg.GraceFrames)
		e.ring.SetAudioExpected(true)
	}
	if next == nil || next.inMixer {
		return events
	}
	b, ok := e.ready(next.PassageID)
	if !ok {
		return events
	}
	err := e.mixer.QueueNext(b, mixer.Transition{
		FadeOut:     head.FadeOut,
		FadeIn:      next.FadeIn,
		Overlap:     next.Overlap,
		NextFadeOut: next.FadeOut,
		After:       head.PassageID,
	})
	if err != nil {
		e.log.Debug().Err(err).Str("passage", next.PassageID.String()).Msg("queue next deferred")
		return events
	}
	if !e.claim(next.PassageID) {
		if err := e.mixer.ClearNext(next.PassageID); err != nil {
			e.log.Warn().Err(err).Str("passage", next.PassageID.String()).Msg("removed passage stays queued in mixer")
		}
	}
	return events
}

// claim records that a passage was handed to the mixer. It fails when the
// passage left the queue in the meantime.
func (e *Engine) claim(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.find(id)
	if q == nil {
		return false
	}
	q.inMixer = true
	return true
}

func (e *Engine) ready(id uuid.UUID) (*buffer.Buffer, bool) {
	b, ok := e.buffers.Get(id)
	if !ok || !b.ReadyNotified() || b.State() == buffer.Failed {
		return nil, false
	}
	return b, true
}

// rescheduleLocked decides the decode requests for the passages within the
// lookahead and keeps their priorities in queue order.
func (e *Engine) rescheduleLocked() effects {
	var fx effects
	anyStarted := slices.ContainsFunc(e.queue, func(q *queued) bool { return q.started })
	ahead := 0
	for _, q := range e.queue {
		prio := decoder.PriorityCurrent
		if !q.started {
			if ahead >= e.cfg.Lookahead {
				break
			}
			switch {
			case ahead == 0 && !anyStarted:
				prio = decoder.PriorityCurrent
			case ahead == 0:
				prio = decoder.PriorityNext
			default:
				prio = decoder.PriorityQueued
			}
			ahead++
		}

		if !q.submitted {
			policy := buffer.PolicyPrefix
			if prio == decoder.PriorityCurrent {
				policy = buffer.PolicyFull
			}
			opts := q.options(policy)
			fx.submit = append(fx.submit, submission{register: &opts, req: q.request(prio)})
			q.submitted = true
			q.priority = prio
			continue
		}
		if prio != q.priority {
			fx.priority = append(fx.priority, reprioritization{id: q.PassageID, prio: prio})
			q.priority = prio
		}
	}
	return fx
}

func (e *Engine) find(id uuid.UUID) *queued {
	q, _ := lo.Find(e.queue, func(q *queued) bool { return q.PassageID == id })
	return q
}

func (e *Engine) removeLocked(id uuid.UUID) effects {
	i := slices.IndexFunc(e.queue, func(q *queued) bool { return q.PassageID == id })
	if i < 0 {
		return effects{}
	}
	e.queue = slices.Delete(e.queue, i, i+1)
	return effects{discard: []uuid.UUID{id}}
}

// snapshot copies the queue, then fills in buffer progress.
func (e *Engine) snapshot() []QueueItem {
	e.mu.Lock()
	items := lo.Map(e.queue, func(q *queued, _ int) QueueItem {
		return QueueItem{
			PassageID: q.PassageID,
			Path:      q.Path,
			State:     buffer.Decoding,
			Playing:   q.started,
		}
	})
	e.mu.Unlock()

	for i := range items {
		b, ok := e.buffers.Get(items[i].PassageID)
		if !ok {
			continue
		}
		items[i].State = b.State()
		items[i].Buffered = b.BufferedDuration()
		if total := b.TotalFrames(); total > 0 {
			items[i].Duration = audio.DurationOf(total, b.SampleRate())
		}
	}
	return items
}
