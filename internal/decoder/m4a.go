package decoder

import (
	"context"
	"errors"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/llehouerou/alac"
	"github.com/llehouerou/go-faad2"
	"github.com/llehouerou/go-m4a"
)

var errUnsupportedM4ACodec = errors.New("unsupported codec in M4A container")

// m4aStream reads samples from an MP4 container and decodes them with faad2
// (AAC) or the ALAC decoder.
type m4aStream struct {
	container  *m4a.Reader
	codecType  m4a.CodecType
	sampleSize int
	channels   int
	next       int
	err        error

	aac  *faad2.Decoder
	alac *alac.Alac

	pcm    [][2]float64
	pcmPos int
}

func openM4A(f *os.File) (*Source, error) {
	container, err := m4a.Open(f)
	if err != nil {
		return nil, err
	}

	sampleRate := container.SampleRate()
	d := &m4aStream{
		container:  container,
		codecType:  container.Codec(),
		sampleSize: int(container.SampleSize()),
		channels:   int(container.Channels()),
	}

	precision := 2
	switch d.codecType {
	case m4a.CodecAAC:
		dec, err := faad2.NewDecoder(context.Background())
		if err != nil {
			return nil, err
		}
		if err := dec.Init(context.Background(), container.CodecConfig()); err != nil {
			dec.Close(context.Background())
			return nil, err
		}
		d.aac = dec
	case m4a.CodecALAC:
		dec, err := alac.NewWithConfig(alac.Config{
			SampleRate:  int(sampleRate),
			SampleSize:  d.sampleSize,
			NumChannels: d.channels,
			FrameSize:   4096,
		})
		if err != nil {
			return nil, err
		}
		d.alac = dec
		if d.sampleSize == 24 {
			precision = 3
		}
	default:
		return nil, errUnsupportedM4ACodec
	}

	return &Source{
		StreamCloser: &fileSource{Streamer: d, closer: d, file: f},
		Format: beep.Format{
			SampleRate:  beep.SampleRate(sampleRate),
			NumChannels: 2,
			Precision:   precision,
		},
		Len:   int(container.Duration().Seconds() * float64(sampleRate)),
		Codec: d.codecType.String(),
	}, nil
}

func (d *m4aStream) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}

	for n < len(samples) {
		if d.pcmPos < len(d.pcm) {
			c := copy(samples[n:], d.pcm[d.pcmPos:])
			n += c
			d.pcmPos += c
			continue
		}
		if d.next >= d.container.SampleCount() {
			return n, n > 0
		}

		data, err := d.container.ReadSample(d.next)
		if err != nil {
			d.err = err
			return n, n > 0
		}
		d.next++

		switch d.codecType {
		case m4a.CodecAAC:
			pcm, err := d.aac.Decode(context.Background(), data)
			if err != nil {
				d.err = err
				return n, n > 0
			}
			d.pcm = int16ToStereo(pcm, d.channels)
		case m4a.CodecALAC:
			raw := d.alac.Decode(data)
			if d.sampleSize == 24 {
				d.pcm = pcm24ToStereo(raw, d.channels)
			} else {
				d.pcm = pcm16ToStereo(raw, d.channels)
			}
		default:
			d.err = errUnsupportedM4ACodec
			return n, n > 0
		}
		d.pcmPos = 0
	}
	return n, true
}

func (d *m4aStream) Err() error { return d.err }

func (d *m4aStream) Close() error {
	if d.aac != nil {
		d.aac.Close(context.Background())
	}
	return nil
}

func int16ToStereo(pcm []int16, channels int) [][2]float64 {
	if channels == 2 {
		frames := make([][2]float64, len(pcm)/2)
		for i := range frames {
			frames[i][0] = float64(pcm[i*2]) / 32768.0
			frames[i][1] = float64(pcm[i*2+1]) / 32768.0
		}
		return frames
	}
	frames := make([][2]float64, len(pcm))
	for i, s := range pcm {
		v := float64(s) / 32768.0
		frames[i] = [2]float64{v, v}
	}
	return frames
}

func pcm16ToStereo(data []byte, channels int) [][2]float64 {
	stride := 2 * channels
	frames := make([][2]float64, len(data)/stride)
	for i := range frames {
		off := i * stride
		left := int16(data[off]) | int16(data[off+1])<<8
		right := left
		if channels == 2 {
			right = int16(data[off+2]) | int16(data[off+3])<<8
		}
		frames[i][0] = float64(left) / 32768.0
		frames[i][1] = float64(right) / 32768.0
	}
	return frames
}

func pcm24ToStereo(data []byte, channels int) [][2]float64 {
	stride := 3 * channels
	frames := make([][2]float64, len(data)/stride)
	for i := range frames {
		off := i * stride
		left := int24(data[off:])
		right := left
		if channels == 2 {
			right = int24(data[off+3:])
		}
		frames[i][0] = float64(left) / 8388608.0
		frames[i][1] = float64(right) / 8388608.0
	}
	return frames
}

// int24 reads a little-endian signed 24-bit sample.
func int24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^0xFFFFFF
	}
	return v
}
