package state

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Setting(ctx, "engine.ready_threshold_ms")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, "engine.ready_threshold_ms", "3000"))
	require.NoError(t, s.SetSetting(ctx, "output.buffer_frames", "2048"))
	require.NoError(t, s.SetSetting(ctx, "engine.ready_threshold_ms", "2500"))

	v, err := s.Setting(ctx, "engine.ready_threshold_ms")
	require.NoError(t, err)
	assert.Equal(t, "2500", v)

	all, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"engine.ready_threshold_ms": "2500",
		"output.buffer_frames":      "2048",
	}, all)

	require.NoError(t, s.DeleteSetting(ctx, "output.buffer_frames"))
	require.ErrorIs(t, s.DeleteSetting(ctx, "output.buffer_frames"), ErrNotFound)
}

func TestPassageFor_IsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.PassageFor(ctx, "/music/a.flac")
	require.NoError(t, err)
	again, err := s.PassageFor(ctx, "/music/a.flac")
	require.NoError(t, err)
	b, err := s.PassageFor(ctx, "/music/b.flac")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	passages, err := s.Passages(ctx)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "/music/a.flac", passages[0].Path)
	assert.Equal(t, a, passages[0].ID)
}

func TestSongs_SaveReplaceLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PassageFor(ctx, "/music/mix.flac")
	require.NoError(t, err)
	song1, song2 := uuid.New(), uuid.New()

	require.NoError(t, s.SaveSongs(ctx, id, []Song{
		{StartMs: 60000, EndMs: 120000, SongID: &song2, Title: "Second"},
		{StartMs: 0, EndMs: 55000, SongID: &song1, Title: "First"},
		{StartMs: 55000, EndMs: 60000},
	}))

	songs, err := s.Songs(ctx, id)
	require.NoError(t, err)
	require.Len(t, songs, 3)
	assert.Equal(t, int64(0), songs[0].StartMs)
	assert.Equal(t, "First", songs[0].Title)
	assert.Nil(t, songs[1].SongID)
	assert.Empty(t, songs[1].Title)
	assert.Equal(t, song2, *songs[2].SongID)

	raw, err := s.LoadTimeline(ctx, id)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, song1.String(), raw[0].SongID)
	assert.Empty(t, raw[1].SongID)
	assert.Equal(t, int64(120000), raw[2].EndMs)

	p, err := s.Passage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Songs)

	// Saving again replaces the timeline.
	require.NoError(t, s.SaveSongs(ctx, id, []Song{{StartMs: 0, EndMs: 1000, SongID: &song1}}))
	raw, err = s.LoadTimeline(ctx, id)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestSongs_UnknownPassage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.SaveSongs(ctx, uuid.New(), nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Passage(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	raw, err := s.LoadTimeline(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, initSchema(s.DB()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}
