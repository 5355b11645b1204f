// Package decoder turns audio files into PCM appended to passage buffers.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gopxl/beep/v2"

	"github.com/llehouerou/wavecore/internal/audio"
)

// StandardRate is the rate every decoded passage is stored at.
const StandardRate = audio.StandardRate

const (
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extWAV  = ".wav"
	extOGG  = ".ogg"
	extOGA  = ".oga"
	extOPUS = ".opus"
	extM4A  = ".m4a"
	extMP4  = ".mp4"
)

var (
	// ErrUnsupportedFormat is returned for files with no registered codec.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyStream is returned when a file decodes to zero frames.
	ErrEmptyStream = errors.New("stream contains no audio")
)

// Source is an opened, decodable audio stream.
type Source struct {
	beep.StreamCloser
	Format beep.Format
	// Len is the stream length in frames at Format.SampleRate, 0 when unknown.
	Len   int
	Codec string
}

// StandardLen returns Len converted to StandardRate, or -1 when unknown.
func (s *Source) StandardLen() int64 {
	if s.Len <= 0 || s.Format.SampleRate <= 0 {
		return -1
	}
	return int64(s.Len) * StandardRate / int64(s.Format.SampleRate)
}

// OpenFunc decodes an opened file. The decoder takes ownership of f.
type OpenFunc func(f *os.File) (*Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{
		extMP3:  openMP3,
		extFLAC: openFLAC,
		extWAV:  openWAV,
		extOGG:  openOgg,
		extOGA:  openOgg,
		extOPUS: openOgg,
		extM4A:  openM4A,
		extMP4:  openM4A,
	}
)

// Register installs the codec used for files with the given extension.
func Register(ext string, fn OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(ext)] = fn
}

// Supported reports whether a codec is registered for path's extension.
func Supported(path string) bool {
	_, ok := lookup(path)
	return ok
}

// Extensions returns the registered extensions.
func Extensions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for ext := range registry {
		out = append(out, ext)
	}
	return out
}

func lookup(path string) (OpenFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[strings.ToLower(filepath.Ext(path))]
	return fn, ok
}

// Open opens path with the codec registered for its extension.
func Open(path string) (*Source, error) {
	fn, ok := lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	src, err := fn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return src, nil
}

// fileSource wraps a beep stream with the file it reads from.
type fileSource struct {
	beep.Streamer
	closer io.Closer
	file   io.Closer
}

func (s *fileSource) Close() error {
	var err error
	if s.closer != nil {
		err = s.closer.Close()
	}
	if s.file != nil {
		if ferr := s.file.Close(); ferr != nil && err == nil && !errors.Is(ferr, os.ErrClosed) {
			err = ferr
		}
	}
	return err
}
