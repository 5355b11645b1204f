package decoder

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/llehouerou/go-mp3"
)

// mp3Stream adapts llehouerou/go-mp3, which always yields 16-bit stereo.
type mp3Stream struct {
	decoder *mp3.Decoder
	err     error
	readBuf []byte
}

func openMP3(f *os.File) (*Source, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}

	sampleRate := decoder.SampleRate()
	if sampleRate == 0 {
		return nil, errors.New("mp3: invalid sample rate")
	}

	s := &mp3Stream{decoder: decoder, readBuf: make([]byte, 8192)}
	length := 0
	if count := decoder.SampleCount(); count > 0 {
		length = int(count)
	}

	return &Source{
		StreamCloser: &fileSource{Streamer: s, file: f},
		Format: beep.Format{
			SampleRate:  beep.SampleRate(sampleRate),
			NumChannels: 2,
			Precision:   2,
		},
		Len:   length,
		Codec: "MP3",
	}, nil
}

func (d *mp3Stream) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}

	bytesNeeded := len(samples) * 4
	if len(d.readBuf) < bytesNeeded {
		d.readBuf = make([]byte, bytesNeeded)
	}

	bytesRead, err := io.ReadFull(d.decoder, d.readBuf[:bytesNeeded])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = err
		return 0, false
	}

	n = bytesRead / 4
	if n == 0 {
		return 0, false
	}
	for i := range n {
		off := i * 4
		left := int16(binary.LittleEndian.Uint16(d.readBuf[off:]))    //nolint:gosec // audio samples
		right := int16(binary.LittleEndian.Uint16(d.readBuf[off+2:])) //nolint:gosec // audio samples
		samples[i][0] = float64(left) / 32768.0
		samples[i][1] = float64(right) / 32768.0
	}
	return n, true
}

func (d *mp3Stream) Err() error { return d.err }
