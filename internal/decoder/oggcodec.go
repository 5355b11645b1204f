package decoder

import (
	"encoding/binary"
	"errors"

	"github.com/jfreymuth/vorbis"
	"github.com/jj11hh/opus"
)

const (
	opusSampleRate = 48000
	// opusMaxFrame is the largest Opus frame in samples per channel (120 ms).
	opusMaxFrame = 5760
)

var (
	errUnknownOggCodec      = errors.New("ogg: unknown codec (not Opus or Vorbis)")
	errInvalidVorbisHeader  = errors.New("vorbis: invalid identification header")
	errInvalidOpusHead      = errors.New("opus: invalid OpusHead")
	errUnsupportedOpus      = errors.New("opus: unsupported version")
	errVorbisNotReady       = errors.New("vorbis: decoder not initialized (headers incomplete)")
	errVorbisBufferTooSmall = errors.New("vorbis: output buffer too small")
)

// oggCodec decodes the packets of one Ogg logical stream.
type oggCodec interface {
	Name() string
	SampleRate() int
	Channels() int
	// PreSkip is the number of samples per channel to drop at stream start.
	PreSkip() int
	GranuleToSamples(granule int64) int64
	// AddHeaderPacket feeds a header packet and reports whether all headers
	// have been received.
	AddHeaderPacket(packet []byte) (complete bool, err error)
	// Decode writes interleaved samples to pcm and returns samples per channel.
	Decode(packet []byte, pcm []float32) (int, error)
	MaxFrame() int
}

func detectOggCodec(first []byte) (oggCodec, error) {
	if len(first) >= 8 && string(first[:8]) == "OpusHead" {
		return newOpusCodec(first)
	}
	if len(first) >= 7 && first[0] == 0x01 && string(first[1:7]) == "vorbis" {
		return newVorbisCodec(first)
	}
	return nil, errUnknownOggCodec
}

type opusCodec struct {
	decoder  *opus.Decoder
	channels int
	preSkip  int
}

func newOpusCodec(packet []byte) (*opusCodec, error) {
	if len(packet) < 19 {
		return nil, errInvalidOpusHead
	}
	if packet[8] != 1 {
		return nil, errUnsupportedOpus
	}
	channels := int(packet[9])
	if channels < 1 || channels > 2 {
		return nil, errUnsupportedOpus
	}
	decoder, err := opus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &opusCodec{
		decoder:  decoder,
		channels: channels,
		preSkip:  int(binary.LittleEndian.Uint16(packet[10:12])),
	}, nil
}

func (c *opusCodec) Name() string    { return "OPUS" }
func (c *opusCodec) SampleRate() int { return opusSampleRate }
func (c *opusCodec) Channels() int   { return c.channels }
func (c *opusCodec) PreSkip() int    { return c.preSkip }
func (c *opusCodec) MaxFrame() int   { return opusMaxFrame }

func (c *opusCodec) GranuleToSamples(granule int64) int64 {
	return granule - int64(c.preSkip)
}

// AddHeaderPacket consumes the OpusTags packet that follows OpusHead.
func (c *opusCodec) AddHeaderPacket(_ []byte) (bool, error) {
	return true, nil
}

func (c *opusCodec) Decode(packet []byte, pcm []float32) (int, error) {
	return c.decoder.DecodeFloat32(packet, pcm)
}

type vorbisCodec struct {
	decoder    *vorbis.Decoder
	channels   int
	sampleRate int
	headers    [][]byte
}

func newVorbisCodec(packet []byte) (*vorbisCodec, error) {
	// [0] type, [1:7] "vorbis", [7:11] version, [11] channels, [12:16] rate.
	if len(packet) < 16 {
		return nil, errInvalidVorbisHeader
	}
	if binary.LittleEndian.Uint32(packet[7:11]) != 0 {
		return nil, errInvalidVorbisHeader
	}
	ident := make([]byte, len(packet))
	copy(ident, packet)
	return &vorbisCodec{
		channels:   int(packet[11]),
		sampleRate: int(binary.LittleEndian.Uint32(packet[12:16])),
		headers:    [][]byte{ident},
	}, nil
}

func (c *vorbisCodec) Name() string    { return "VORBIS" }
func (c *vorbisCodec) SampleRate() int { return c.sampleRate }
func (c *vorbisCodec) Channels() int   { return c.channels }
func (c *vorbisCodec) PreSkip() int    { return 0 }
func (c *vorbisCodec) MaxFrame() int   { return 8192 }

func (c *vorbisCodec) GranuleToSamples(granule int64) int64 { return granule }

// AddHeaderPacket collects the comment and setup headers; the decoder is
// built once all three are present.
func (c *vorbisCodec) AddHeaderPacket(packet []byte) (bool, error) {
	if c.decoder != nil {
		return true, nil
	}
	hdr := make([]byte, len(packet))
	copy(hdr, packet)
	c.headers = append(c.headers, hdr)
	if len(c.headers) < 3 {
		return false, nil
	}

	decoder := &vorbis.Decoder{}
	for _, h := range c.headers {
		if err := decoder.ReadHeader(h); err != nil {
			return false, err
		}
	}
	c.decoder = decoder
	c.headers = nil
	return true, nil
}

func (c *vorbisCodec) Decode(packet []byte, pcm []float32) (int, error) {
	if c.decoder == nil {
		return 0, errVorbisNotReady
	}
	samples, err := c.decoder.Decode(packet)
	if err != nil {
		return 0, err
	}
	if len(pcm) < len(samples) {
		return 0, errVorbisBufferTooSmall
	}
	n := copy(pcm, samples)
	return n / c.channels, nil
}
