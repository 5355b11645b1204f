package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var (
	errInvalidOggMagic   = errors.New("ogg: invalid capture pattern")
	errInvalidOggVersion = errors.New("ogg: unsupported version")
)

const (
	oggHeaderSize = 27
	// oggTailScan is how much of the file end is searched for the last page.
	oggTailScan = 64 * 1024
)

type oggPageHeader struct {
	HeaderType   uint8
	GranulePos   int64
	SerialNumber uint32
	SequenceNum  uint32
	SegmentTable []uint8
}

func parseOggPageHeader(r io.Reader) (*oggPageHeader, error) {
	var buf [oggHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	if string(buf[0:4]) != "OggS" {
		return nil, errInvalidOggMagic
	}
	if buf[4] != 0 {
		return nil, errInvalidOggVersion
	}

	hdr := &oggPageHeader{
		HeaderType:   buf[5],
		GranulePos:   int64(binary.LittleEndian.Uint64(buf[6:14])), //nolint:gosec // granule is signed
		SerialNumber: binary.LittleEndian.Uint32(buf[14:18]),
		SequenceNum:  binary.LittleEndian.Uint32(buf[18:22]),
	}
	if n := buf[26]; n > 0 {
		hdr.SegmentTable = make([]uint8, n)
		if _, err := io.ReadFull(r, hdr.SegmentTable); err != nil {
			return nil, err
		}
	}
	return hdr, nil
}

// oggPacketReader yields the packets of the first logical stream of an Ogg
// file in order, joining packets that span pages.
type oggPacketReader struct {
	r       io.Reader
	serial  uint32
	started bool

	pending [][]byte // complete packets of the current page
	partial []byte   // packet continued on the next page

	granule int64 // granule position of the last page read
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{r: r, granule: -1}
}

// NextPacket returns the next packet, or io.EOF at the end of the stream.
func (o *oggPacketReader) NextPacket() ([]byte, error) {
	for len(o.pending) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.pending[0]
	o.pending = o.pending[1:]
	return p, nil
}

func (o *oggPacketReader) readPage() error {
	hdr, err := parseOggPageHeader(o.r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}

	total := 0
	for _, s := range hdr.SegmentTable {
		total += int(s)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(o.r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}

	if !o.started {
		o.serial = hdr.SerialNumber
		o.started = true
	}
	if hdr.SerialNumber != o.serial {
		// Interleaved logical streams: only the first one is played.
		return nil
	}
	if hdr.GranulePos >= 0 {
		o.granule = hdr.GranulePos
	}

	off := 0
	for _, seg := range hdr.SegmentTable {
		o.partial = append(o.partial, body[off:off+int(seg)]...)
		off += int(seg)
		if seg < 255 {
			o.pending = append(o.pending, o.partial)
			o.partial = nil
		}
	}
	return nil
}

// lastGranule scans the end of r for the final page's granule position.
// It leaves r positioned at the start.
func lastGranule(r io.ReadSeeker) (int64, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return -1, err
	}
	start := max(end-oggTailScan, 0)
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return -1, err
	}
	tail := make([]byte, end-start)
	if _, err := io.ReadFull(r, tail); err != nil {
		return -1, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return -1, err
	}

	idx := bytes.LastIndex(tail, []byte("OggS"))
	if idx < 0 || len(tail)-idx < oggHeaderSize {
		return -1, nil
	}
	hdr, err := parseOggPageHeader(bytes.NewReader(tail[idx:]))
	if err != nil {
		return -1, nil //nolint:nilerr // length is optional
	}
	return hdr.GranulePos, nil
}
