package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oggPage builds a page carrying the given segments.
func oggPage(serial uint32, seq uint32, granule int64, segments []byte, body []byte) []byte {
	var hdr [oggHeaderSize]byte
	copy(hdr[:], "OggS")
	binary.LittleEndian.PutUint64(hdr[6:], uint64(granule)) //nolint:gosec // test data
	binary.LittleEndian.PutUint32(hdr[14:], serial)
	binary.LittleEndian.PutUint32(hdr[18:], seq)
	hdr[26] = byte(len(segments))
	out := append(hdr[:], segments...)
	return append(out, body...)
}

func TestOggPacketReader_JoinsPagesAndFiltersStreams(t *testing.T) {
	long := bytes.Repeat([]byte{0xAB}, 300)

	var file []byte
	file = append(file, oggPage(7, 0, 0, []byte{3}, []byte("one"))...)
	// 300-byte packet split as 255 on this page and 45 on the next.
	file = append(file, oggPage(7, 1, -1, []byte{255}, long[:255])...)
	file = append(file, oggPage(9, 0, 0, []byte{5}, []byte("other"))...)
	file = append(file, oggPage(7, 2, 4800, []byte{45, 3}, append(long[255:], "two"...))...)

	r := newOggPacketReader(bytes.NewReader(file))

	p, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, "one", string(p))

	p, err = r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, long, p)

	p, err = r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, "two", string(p))
	assert.Equal(t, int64(4800), r.granule)

	_, err = r.NextPacket()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestOggPacketReader_InvalidMagic(t *testing.T) {
	r := newOggPacketReader(bytes.NewReader(bytes.Repeat([]byte("x"), 40)))
	_, err := r.NextPacket()
	assert.ErrorIs(t, err, errInvalidOggMagic)
}

func TestLastGranule(t *testing.T) {
	var file []byte
	file = append(file, oggPage(1, 0, 0, []byte{1}, []byte("a"))...)
	file = append(file, oggPage(1, 1, 96000, []byte{1}, []byte("b"))...)

	r := bytes.NewReader(file)
	g, err := lastGranule(r)
	require.NoError(t, err)
	assert.Equal(t, int64(96000), g)

	pos, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestDetectOggCodec(t *testing.T) {
	_, err := detectOggCodec([]byte("garbage!"))
	require.ErrorIs(t, err, errUnknownOggCodec)

	ident := make([]byte, 30)
	ident[0] = 0x01
	copy(ident[1:], "vorbis")
	ident[11] = 2
	binary.LittleEndian.PutUint32(ident[12:], 44100)
	c, err := detectOggCodec(ident)
	require.NoError(t, err)
	assert.Equal(t, "VORBIS", c.Name())
	assert.Equal(t, 44100, c.SampleRate())
	assert.Equal(t, 2, c.Channels())

	_, err = detectOggCodec(append([]byte("OpusHead"), 2))
	assert.ErrorIs(t, err, errInvalidOpusHead)
}
