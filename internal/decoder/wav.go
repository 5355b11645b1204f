package decoder

import (
	"os"

	"github.com/gopxl/beep/v2/wav"
)

func openWAV(f *os.File) (*Source, error) {
	s, format, err := wav.Decode(f)
	if err != nil {
		return nil, err
	}
	return &Source{
		StreamCloser: &fileSource{Streamer: s, closer: s, file: f},
		Format:       format,
		Len:          s.Len(),
		Codec:        "WAV",
	}, nil
}
