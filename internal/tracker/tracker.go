package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/mailbox"
	"github.com/llehouerou/wavecore/internal/mixer"
)

// Source loads the stored timeline of a passage.
type Source interface {
	LoadTimeline(ctx context.Context, passageID uuid.UUID) ([]RawEntry, error)
}

// DurationFunc returns the length of a passage in milliseconds, if known.
type DurationFunc func(passageID uuid.UUID) (int64, bool)

// Notification is emitted by the tracker for external listeners.
type Notification interface {
	trackerNotification()
}

// CurrentSongChanged reports that playback entered a different timeline
// entry or a gap. SongID is nil in a gap.
type CurrentSongChanged struct {
	PassageID  uuid.UUID
	SongID     *uuid.UUID
	PositionMs int64
}

// PlaybackProgress is the periodic progress report.
type PlaybackProgress struct {
	PassageID  uuid.UUID
	PositionMs int64
	// DurationMs is 0 when the length is not yet known.
	DurationMs int64
}

func (CurrentSongChanged) trackerNotification() {}
func (PlaybackProgress) trackerNotification()   {}

// Config holds tracker settings.
type Config struct {
	// ProgressInterval is the minimum playback time between progress reports.
	ProgressInterval time.Duration
	// LoadTimeout bounds timeline loading when a passage starts.
	LoadTimeout time.Duration
}

// DefaultConfig returns the default tracker settings.
func DefaultConfig() Config {
	return Config{
		ProgressInterval: time.Second,
		LoadTimeout:      2 * time.Second,
	}
}

// Tracker consumes mixer events one at a time and emits song and progress
// notifications. All state is owned by the Run goroutine.
type Tracker struct {
	cfg      Config
	src      Source
	duration DurationFunc
	log      zerolog.Logger

	in  *mailbox.Mailbox[mixer.Event]
	out *mailbox.Mailbox[Notification]

	passage      uuid.UUID
	timeline     *Timeline
	entry        int // index of the reported entry, -1 for a gap
	reported     bool
	lastProgress int64
}

// New creates a tracker. src and duration may be nil.
func New(cfg Config, src Source, duration DurationFunc, log zerolog.Logger) *Tracker {
	d := DefaultConfig()
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = d.ProgressInterval
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = d.LoadTimeout
	}
	return &Tracker{
		cfg:      cfg,
		src:      src,
		duration: duration,
		log:      log.With().Str("component", "tracker").Logger(),
		in:       mailbox.New[mixer.Event](),
		out:      mailbox.New[Notification](),
		entry:    -1,
	}
}

// Post queues mixer events for the tracker. It never blocks.
func (t *Tracker) Post(events ...mixer.Event) {
	t.in.PostAll(events)
}

// Notifications returns the mailbox of emitted notifications.
func (t *Tracker) Notifications() *mailbox.Mailbox[Notification] {
	return t.out
}

// Run handles events until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.out.Close()
	for {
		e, ok := t.in.Next(ctx)
		if !ok {
			return nil
		}
		t.Handle(ctx, e)
	}
}

// Handle processes a single event. It is exported for callers that drive the
// tracker synchronously.
func (t *Tracker) Handle(ctx context.Context, e mixer.Event) {
	switch e := e.(type) {
	case mixer.PassageStarted:
		t.start(ctx, e.PassageID)
		t.update(e.PassageID, e.PositionMs, true)
	case mixer.PositionUpdate:
		t.update(e.PassageID, e.PositionMs, e.Seek)
	case mixer.PassageCompleted:
		if e.PassageID == t.passage {
			t.passage = uuid.Nil
			t.timeline = nil
		}
	}
}

func (t *Tracker) start(ctx context.Context, id uuid.UUID) {
	t.passage = id
	t.timeline = t.load(ctx, id)
	t.entry = -1
	t.reported = false
	t.lastProgress = 0
}

// load never fails: an unavailable source yields an empty timeline.
func (t *Tracker) load(ctx context.Context, id uuid.UUID) *Timeline {
	log := t.log.With().Str("passage", id.String()).Logger()
	if t.src == nil {
		return NewTimeline(nil, log)
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.LoadTimeout)
	defer cancel()

	raw, err := t.src.LoadTimeline(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("timeline unavailable, continuing without song boundaries")
		return NewTimeline(nil, log)
	}
	tl := NewTimeline(raw, log)
	log.Debug().Int("entries", tl.Len()).Int("dropped", len(raw)-tl.Len()).Msg("timeline loaded")
	return tl
}

func (t *Tracker) update(id uuid.UUID, ms int64, force bool) {
	if id != t.passage {
		return
	}

	// Every update is a fresh lookup, so a seek lands on the right entry.
	idx := t.timeline.index(ms)
	if !t.reported || idx != t.entry {
		t.entry = idx
		t.reported = true
		var song *uuid.UUID
		if idx >= 0 {
			song = t.timeline.entries[idx].SongID
		}
		t.out.Post(CurrentSongChanged{PassageID: id, SongID: song, PositionMs: ms})
	}

	interval := t.cfg.ProgressInterval.Milliseconds()
	if force || ms-t.lastProgress >= interval || ms < t.lastProgress {
		t.lastProgress = ms
		var total int64
		if t.duration != nil {
			if d, ok := t.duration(id); ok {
				total = d
			}
		}
		t.out.Post(PlaybackProgress{PassageID: id, PositionMs: ms, DurationMs: total})
	}
}
