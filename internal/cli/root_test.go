package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavecore/internal/config"
	"github.com/llehouerou/wavecore/internal/fade"
)

// run executes the root command against a database in dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRoot("test")
	t.Cleanup(func() { a.close() })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", filepath.Join(dir, "wavecore.db"), "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "config", "set", "output.buffer_frames", "1024")
	require.NoError(t, err)

	out, err := run(t, dir, "config", "get", "output.buffer_frames")
	require.NoError(t, err)
	assert.Equal(t, "1024\n", out)

	out, err = run(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "output.buffer_frames")
	assert.Contains(t, out, "1024")

	out, err = run(t, dir, "config", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "output.buffer_frames")

	_, err = run(t, dir, "config", "unset", "output.buffer_frames")
	require.NoError(t, err)

	_, err = run(t, dir, "config", "get", "output.buffer_frames")
	assert.ErrorContains(t, err, "not set")

	_, err = run(t, dir, "config", "unset", "output.buffer_frames")
	assert.ErrorContains(t, err, "not set")
}

func TestTimelineCommands(t *testing.T) {
	dir := t.TempDir()
	set := filepath.Join(dir, "set.flac")

	out, err := run(t, dir, "timeline", "add", set, "0", "4:12", "--title", "Intro")
	require.NoError(t, err)
	assert.Contains(t, out, "set.flac")

	_, err = run(t, dir, "timeline", "add", set, "4:12", "9:30", "6f1c5f0e-4b7a-4f39-9a57-0f3c2d6c1a11")
	require.NoError(t, err)

	_, err = run(t, dir, "timeline", "add", set, "9:00", "10:00")
	assert.ErrorIs(t, err, errOverlap)

	_, err = run(t, dir, "timeline", "add", set, "10:00", "11:00", "not-a-uuid")
	assert.Error(t, err)

	out, err = run(t, dir, "timeline", "list", set)
	require.NoError(t, err)
	assert.Contains(t, out, "Intro")
	assert.Contains(t, out, "4:12.000")
	assert.Contains(t, out, "6f1c5f0e-4b7a-4f39-9a57-0f3c2d6c1a11")

	out, err = run(t, dir, "timeline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "set.flac")

	_, err = run(t, dir, "timeline", "clear", set)
	require.NoError(t, err)
	out, err = run(t, dir, "timeline", "list", set)
	require.NoError(t, err)
	assert.NotContains(t, out, "Intro")
}

func TestPlayOptionsFades(t *testing.T) {
	a := &app{cfg: &config.Config{Fade: config.FadeConfig{Curve: "linear", FadeInMs: 1000, FadeOutMs: 3000}}}

	t.Run("config defaults", func(t *testing.T) {
		opts := playOptions{fadeIn: -1, fadeOut: -1, overlap: -1}
		in, out, overlap, err := opts.fades(a)
		require.NoError(t, err)
		assert.Equal(t, fade.Fade{Curve: fade.Linear, Duration: time.Second}, in)
		assert.Equal(t, fade.Fade{Curve: fade.Linear, Duration: 3 * time.Second}, out)
		assert.Zero(t, overlap)
	})

	t.Run("flags override", func(t *testing.T) {
		opts := playOptions{fadeIn: 0, fadeOut: 8 * time.Second, overlap: 4 * time.Second, curve: "s-curve"}
		in, out, overlap, err := opts.fades(a)
		require.NoError(t, err)
		assert.True(t, in.IsZero())
		assert.Equal(t, fade.Fade{Curve: fade.SCurve, Duration: 8 * time.Second}, out)
		assert.Equal(t, 4*time.Second, overlap)
	})

	t.Run("bad curve", func(t *testing.T) {
		_, _, _, err := playOptions{curve: "cubic"}.fades(a)
		assert.Error(t, err)
	})
}

func TestPlayRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "play", "--null", filepath.Join(dir, "missing.wav"))
	assert.Error(t, err)
}

func TestFormatPosition(t *testing.T) {
	assert.Equal(t, "0:00", formatPosition(0))
	assert.Equal(t, "3:05", formatPosition(185*time.Second))
}
