package decoder

import (
	"errors"
	"io"
	"os"

	"github.com/gopxl/beep/v2"
)

// openOgg decodes Ogg Vorbis and Ogg Opus, detected from the first packet.
func openOgg(f *os.File) (*Source, error) {
	granule, err := lastGranule(f)
	if err != nil {
		return nil, err
	}

	packets := newOggPacketReader(f)
	first, err := packets.NextPacket()
	if err != nil {
		return nil, err
	}
	codec, err := detectOggCodec(first)
	if err != nil {
		return nil, err
	}
	for {
		pkt, err := packets.NextPacket()
		if err != nil {
			return nil, err
		}
		done, err := codec.AddHeaderPacket(pkt)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	s := &oggStream{
		packets: packets,
		codec:   codec,
		pcm:     make([]float32, codec.MaxFrame()*codec.Channels()),
		skip:    codec.PreSkip(),
	}
	s.pcm = s.pcm[:0]

	length := 0
	if granule > 0 {
		length = int(max(codec.GranuleToSamples(granule), 0))
	}

	return &Source{
		StreamCloser: &fileSource{Streamer: s, file: f},
		Format: beep.Format{
			SampleRate:  beep.SampleRate(codec.SampleRate()),
			NumChannels: 2,
			Precision:   2,
		},
		Len:   length,
		Codec: codec.Name(),
	}, nil
}

type oggStream struct {
	packets *oggPacketReader
	codec   oggCodec
	pcm     []float32
	pcmPos  int
	skip    int // samples per channel still to drop
	err     error
	eof     bool
}

func (d *oggStream) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}
	channels := d.codec.Channels()

	for n < len(samples) {
		if d.pcmPos < len(d.pcm) {
			for n < len(samples) && d.pcmPos < len(d.pcm) {
				left := float64(d.pcm[d.pcmPos])
				right := left
				if channels >= 2 {
					right = float64(d.pcm[d.pcmPos+1])
				}
				d.pcmPos += channels
				if d.skip > 0 {
					d.skip--
					continue
				}
				samples[n][0] = left
				samples[n][1] = right
				n++
			}
			continue
		}
		if d.eof {
			return n, n > 0
		}

		pkt, err := d.packets.NextPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.err = err
			}
			d.eof = true
			continue
		}
		if len(pkt) == 0 {
			continue
		}
		perChannel, err := d.codec.Decode(pkt, d.pcm[:cap(d.pcm)])
		if err != nil {
			// A corrupt packet is skipped.
			continue
		}
		d.pcm = d.pcm[:perChannel*channels]
		d.pcmPos = 0
	}
	return n, true
}

func (d *oggStream) Err() error { return d.err }
