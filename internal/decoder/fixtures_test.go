package decoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/require"
)

// pattern is the deterministic test signal: a sawtooth with period 2000.
func pattern(i int) float64 {
	return float64(i%2000-1000) / 2000
}

// writeWAV writes a 16-bit stereo WAV of n frames of pattern at rate.
func writeWAV(t *testing.T, name string, rate, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	pos := 0
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n {
			return 0, false
		}
		c := min(len(samples), n-pos)
		for i := range c {
			v := pattern(pos + i)
			samples[i] = [2]float64{v, -v}
		}
		pos += c
		return c, true
	})

	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
	require.NoError(t, wav.Encode(f, s, format))
	return path
}
