package decoder

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/buffer"
)

// resampleQuality is the beep.Resample quality used for rate conversion.
const resampleQuality = 4

// Request asks for a passage to be decoded into its buffer.
type Request struct {
	PassageID uuid.UUID
	Path      string
	// StartFrame is where the passage starts in the file, at StandardRate.
	StartFrame int64
	// EndFrame is where the passage ends in the file, 0 for end of file.
	EndFrame int64
	Priority Priority
	// Continuation marks a request that extends an already buffered prefix.
	Continuation bool
}

// Appender is the buffer registry the pool writes into.
type Appender interface {
	Get(id uuid.UUID) (*buffer.Buffer, bool)
	NotifySamplesAppended(id uuid.UUID)
	NotifyDecodeComplete(id uuid.UUID)
	MarkFailed(id uuid.UUID, err error)
}

// Opener opens a file for decoding.
type Opener func(path string) (*Source, error)

// PoolConfig configures the decoder pool.
type PoolConfig struct {
	Workers int
	// ChunkFrames is the number of frames decoded between appends.
	ChunkFrames int
	Open        Opener
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     min(max(runtime.NumCPU()/2, 1), 4),
		ChunkFrames: 4096,
		Open:        Open,
	}
}

type runningJob struct {
	cancel context.CancelFunc
}

// Pool runs decode requests on a fixed set of workers, highest priority first.
type Pool struct {
	cfg PoolConfig
	mgr Appender
	log zerolog.Logger

	mu      sync.Mutex
	queue   *jobQueue
	running map[uuid.UUID]*runningJob
	// deferred holds requests waiting for a superseded decode of the same
	// passage to stop.
	deferred map[uuid.UUID]Request
	wake     chan struct{}
}

// NewPool creates a pool. Call Run to start the workers.
func NewPool(cfg PoolConfig, mgr Appender, log zerolog.Logger) *Pool {
	d := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = d.ChunkFrames
	}
	if cfg.Open == nil {
		cfg.Open = d.Open
	}
	return &Pool{
		cfg:      cfg,
		mgr:      mgr,
		log:      log.With().Str("component", "decoder").Logger(),
		queue:    newJobQueue(),
		running:  make(map[uuid.UUID]*runningJob),
		deferred: make(map[uuid.UUID]Request),
		wake:     make(chan struct{}, cfg.Workers),
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		g.Go(func() error {
			return p.worker(ctx, i)
		})
	}
	return g.Wait()
}

// Submit queues a request. A pending request for the same passage is replaced.
func (p *Pool) Submit(req Request) {
	p.mu.Lock()
	p.queue.push(req)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Cancel drops the pending request of a passage and stops its running decode.
func (p *Pool) Cancel(id uuid.UUID) {
	p.mu.Lock()
	p.queue.remove(id)
	delete(p.deferred, id)
	rj := p.running[id]
	p.mu.Unlock()
	if rj != nil {
		rj.cancel()
	}
}

// Reprioritize changes the priority of a pending request.
func (p *Pool) Reprioritize(id uuid.UUID, prio Priority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.setPriority(id, prio)
}

// Pending returns the number of queued requests.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// Running reports whether a passage is being decoded.
func (p *Pool) Running(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[id]
	return ok
}

func (p *Pool) worker(ctx context.Context, n int) error {
	log := p.log.With().Int("worker", n).Logger()
	for {
		req, rj, jobCtx, ok := p.take(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.wake:
				continue
			}
		}

		err := p.decode(jobCtx, req)
		p.finish(req.PassageID, rj)

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Debug().Str("passage", req.PassageID.String()).Msg("decode cancelled")
		default:
			p.mgr.MarkFailed(req.PassageID, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (p *Pool) take(ctx context.Context) (Request, *runningJob, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		req, ok := p.queue.pop()
		if !ok {
			return Request{}, nil, nil, false
		}
		if prev := p.running[req.PassageID]; prev != nil {
			// A newer request supersedes the running one; it starts once the
			// old decode has stopped appending.
			prev.cancel()
			p.deferred[req.PassageID] = req
			continue
		}
		jobCtx, cancel := context.WithCancel(ctx)
		rj := &runningJob{cancel: cancel}
		p.running[req.PassageID] = rj
		return req, rj, jobCtx, true
	}
}

func (p *Pool) finish(id uuid.UUID, rj *runningJob) {
	rj.cancel()
	p.mu.Lock()
	if p.running[id] == rj {
		delete(p.running, id)
	}
	req, ok := p.deferred[id]
	if ok {
		delete(p.deferred, id)
		p.queue.push(req)
	}
	p.mu.Unlock()
	if ok {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// decode runs decode-and-skip: the file is always decoded from its start and
// frames before the resume point are discarded.
func (p *Pool) decode(ctx context.Context, req Request) error {
	buf, ok := p.mgr.Get(req.PassageID)
	if !ok || buf.Invalidated() {
		return nil
	}

	src, err := p.cfg.Open(req.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	var stream beep.Streamer = src
	if src.Format.SampleRate != StandardRate {
		stream = beep.Resample(resampleQuality, src.Format.SampleRate, StandardRate, src)
	}

	if total := src.StandardLen(); total > 0 {
		end := total
		if req.EndFrame > 0 {
			end = min(end, req.EndFrame)
		}
		buf.SetTotalFrames(end - req.StartFrame)
	}

	log := p.log.With().
		Str("passage", req.PassageID.String()).
		Str("codec", src.Codec).
		Logger()
	log.Debug().
		Int("rate", int(src.Format.SampleRate)).
		Int64("start", req.StartFrame).
		Int64("resume", buf.Frames()).
		Bool("continuation", req.Continuation).
		Msg("decode started")

	raw := make([][2]float64, p.cfg.ChunkFrames)
	frames := make([]audio.Frame, p.cfg.ChunkFrames)
	skip := req.StartFrame + buf.Frames()
	var pos int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if buf.Invalidated() {
			log.Debug().Msg("buffer invalidated, dropping output")
			return nil
		}

		n, ok := stream.Stream(raw)
		if n == 0 && !ok {
			break
		}

		lo := int64(0)
		hi := int64(n)
		if pos+hi <= skip {
			pos += hi
			continue
		}
		if pos < skip {
			lo = skip - pos
		}
		endReached := false
		if req.EndFrame > 0 && pos+hi >= req.EndFrame {
			hi = max(req.EndFrame-pos, lo)
			endReached = true
		}

		for i := lo; i < hi; i++ {
			frames[i-lo] = audio.Frame{float32(raw[i][0]), float32(raw[i][1])}
		}
		stop, err := p.append(buf, frames[:hi-lo])
		if err != nil {
			return err
		}
		pos += int64(n)
		p.mgr.NotifySamplesAppended(req.PassageID)
		if stop {
			log.Debug().Int64("frames", buf.Frames()).Msg("prefix decoded")
			return nil
		}
		if endReached || !ok {
			break
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if buf.Frames() == 0 {
		return ErrEmptyStream
	}
	p.mgr.NotifyDecodeComplete(req.PassageID)
	log.Debug().Int64("frames", buf.Frames()).Msg("decode complete")
	return nil
}

// append writes frames while honoring the buffer's prefix limit. It returns
// stop=true when the limit is reached and the buffer is still a prefix.
func (p *Pool) append(buf *buffer.Buffer, frames []audio.Frame) (bool, error) {
	for {
		limit := buf.LimitFrames()
		if limit < 0 {
			buf.Append(frames)
			return false, nil
		}
		room := limit - buf.Frames()
		if int64(len(frames)) < room {
			buf.Append(frames)
			return false, nil
		}
		if room > 0 {
			buf.Append(frames[:room])
			frames = frames[room:]
		}
		if buf.StopAtPrefix() {
			return true, nil
		}
		// Promoted while decoding: keep going with the rest.
	}
}
