package mixer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/audio"
)

// memSource is an in-memory Source whose decode progress is driven by tests.
type memSource struct {
	id uuid.UUID

	mu       sync.Mutex
	frames   []audio.Frame
	total    int64
	complete bool
}

// constSource is a complete passage of n frames of value v.
func constSource(n int, v float32) *memSource {
	s := &memSource{id: uuid.New(), total: int64(n), complete: true}
	s.frames = make([]audio.Frame, n)
	for i := range s.frames {
		s.frames[i] = audio.Frame{v, v}
	}
	return s
}

// decodingSource has total frames expected of which none are decoded yet.
func decodingSource(total int64) *memSource {
	return &memSource{id: uuid.New(), total: total}
}

func (s *memSource) appendConst(n int, v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.frames = append(s.frames, audio.Frame{v, v})
	}
}

func (s *memSource) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
}

func (s *memSource) ID() uuid.UUID { return s.id }

func (s *memSource) Frame(pos int64) (audio.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= int64(len(s.frames)) {
		return audio.Silence, false
	}
	return s.frames[pos], true
}

func (s *memSource) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.frames))
}

func (s *memSource) TotalFrames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		return int64(len(s.frames))
	}
	return s.total
}

func (s *memSource) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}
