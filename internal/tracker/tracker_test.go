package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavecore/internal/mixer"
)

type fakeSource struct {
	timelines map[uuid.UUID][]RawEntry
	err       error
	block     bool
}

func (f *fakeSource) LoadTimeline(ctx context.Context, id uuid.UUID) ([]RawEntry, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.timelines[id], nil
}

func songChanges(tr *Tracker) []CurrentSongChanged {
	var out []CurrentSongChanged
	for _, n := range tr.Notifications().Drain() {
		if c, ok := n.(CurrentSongChanged); ok {
			out = append(out, c)
		}
	}
	return out
}

func TestTracker_ReportsBoundaries(t *testing.T) {
	passage := uuid.New()
	a, b := uuid.New(), uuid.New()
	src := &fakeSource{timelines: map[uuid.UUID][]RawEntry{
		passage: {
			{StartMs: 0, EndMs: 3000, SongID: a.String()},
			{StartMs: 3000, EndMs: 6000, SongID: b.String()},
		},
	}}
	tr := New(Config{}, src, nil, zerolog.Nop())
	ctx := context.Background()

	tr.Handle(ctx, mixer.PassageStarted{PassageID: passage})
	changes := songChanges(tr)
	require.Len(t, changes, 1)
	assert.Equal(t, a, *changes[0].SongID)

	for ms := int64(100); ms <= 7000; ms += 100 {
		tr.Handle(ctx, mixer.PositionUpdate{PassageID: passage, PositionMs: ms})
	}
	changes = songChanges(tr)
	require.Len(t, changes, 2)
	assert.Equal(t, b, *changes[0].SongID)
	assert.Equal(t, int64(3000), changes[0].PositionMs)
	assert.Nil(t, changes[1].SongID, "past the last entry is a gap")
	assert.Equal(t, int64(6000), changes[1].PositionMs)

	tr.Handle(ctx, mixer.PositionUpdate{PassageID: passage, PositionMs: 1500, Seek: true})
	changes = songChanges(tr)
	require.Len(t, changes, 1)
	assert.Equal(t, a, *changes[0].SongID)
}

func TestTracker_IgnoresOtherPassages(t *testing.T) {
	tr := New(Config{}, nil, nil, zerolog.Nop())
	ctx := context.Background()
	current := uuid.New()

	tr.Handle(ctx, mixer.PassageStarted{PassageID: current})
	tr.Notifications().Drain()

	tr.Handle(ctx, mixer.PositionUpdate{PassageID: uuid.New(), PositionMs: 5000})
	assert.Zero(t, tr.Notifications().Len())

	tr.Handle(ctx, mixer.PassageCompleted{PassageID: current, Completed: true})
	tr.Handle(ctx, mixer.PositionUpdate{PassageID: current, PositionMs: 5000})
	assert.Zero(t, tr.Notifications().Len())
}

func TestTracker_ProgressInterval(t *testing.T) {
	passage := uuid.New()
	durations := func(id uuid.UUID) (int64, bool) { return 60000, id == passage }
	tr := New(Config{ProgressInterval: time.Second}, nil, durations, zerolog.Nop())
	ctx := context.Background()

	tr.Handle(ctx, mixer.PassageStarted{PassageID: passage})
	for ms := int64(100); ms <= 3000; ms += 100 {
		tr.Handle(ctx, mixer.PositionUpdate{PassageID: passage, PositionMs: ms})
	}

	var progress []PlaybackProgress
	for _, n := range tr.Notifications().Drain() {
		if p, ok := n.(PlaybackProgress); ok {
			progress = append(progress, p)
		}
	}
	require.Len(t, progress, 4)
	for i, p := range progress {
		assert.Equal(t, int64(i)*1000, p.PositionMs)
		assert.Equal(t, int64(60000), p.DurationMs)
	}
}

func TestTracker_UnavailableSourceNeverBlocksStart(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"error", &fakeSource{err: errors.New("database is locked")}},
		{"hangs", &fakeSource{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(Config{LoadTimeout: 20 * time.Millisecond}, tt.src, nil, zerolog.Nop())
			passage := uuid.New()

			start := time.Now()
			tr.Handle(context.Background(), mixer.PassageStarted{PassageID: passage})
			assert.Less(t, time.Since(start), time.Second)

			changes := songChanges(tr)
			require.Len(t, changes, 1)
			assert.Nil(t, changes[0].SongID)

			tr.Handle(context.Background(), mixer.PositionUpdate{PassageID: passage, PositionMs: 10000})
			assert.Empty(t, songChanges(tr), "no boundaries without a timeline")
		})
	}
}

func TestTracker_RunConsumesMailbox(t *testing.T) {
	passage := uuid.New()
	song := uuid.New()
	src := &fakeSource{timelines: map[uuid.UUID][]RawEntry{
		passage: {{StartMs: 1000, EndMs: 2000, SongID: song.String()}},
	}}
	tr := New(Config{}, src, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	tr.Post(
		mixer.PassageStarted{PassageID: passage},
		mixer.PositionUpdate{PassageID: passage, PositionMs: 1000},
	)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	var got []CurrentSongChanged
	for len(got) < 2 {
		n, ok := tr.Notifications().Next(waitCtx)
		require.True(t, ok)
		if c, ok := n.(CurrentSongChanged); ok {
			got = append(got, c)
		}
	}
	assert.Nil(t, got[0].SongID)
	assert.Equal(t, song, *got[1].SongID)

	cancel()
	require.NoError(t, <-done)
}
