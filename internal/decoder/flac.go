package decoder

import (
	"io"
	"os"

	"github.com/gopxl/beep/v2/flac"
)

func openFLAC(f *os.File) (*Source, error) {
	// Some taggers prepend an ID3v2 tag, which the FLAC decoder rejects.
	if err := skipID3v2(f); err != nil {
		return nil, err
	}
	s, format, err := flac.Decode(f)
	if err != nil {
		return nil, err
	}
	return &Source{
		StreamCloser: &fileSource{Streamer: s, closer: s, file: f},
		Format:       format,
		Len:          s.Len(),
		Codec:        "FLAC",
	}, nil
}

// skipID3v2 positions r after an ID3v2 tag, or back at the start when there
// is none.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := io.ReadFull(r, header)
	if err != nil && n == 0 {
		return err
	}
	if n < 10 || string(header[0:3]) != "ID3" {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}

	// Syncsafe integer: 7 bits per byte.
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}
