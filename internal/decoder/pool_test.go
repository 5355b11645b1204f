package decoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavecore/internal/buffer"
)

const waitTimeout = 5 * time.Second

func startPool(t *testing.T, cfg buffer.Config, pcfg PoolConfig) (*buffer.Manager, *Pool) {
	t.Helper()
	mgr := buffer.NewManager(cfg, zerolog.Nop())
	pool := NewPool(pcfg, mgr, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return mgr, pool
}

func waitEvent[T buffer.Event](t *testing.T, mgr *buffer.Manager) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		e, ok := mgr.Events().Next(ctx)
		require.True(t, ok, "timed out waiting for %T", *new(T))
		if v, ok := e.(T); ok {
			return v
		}
	}
}

func TestPool_DecodesWholeFile(t *testing.T) {
	path := writeWAV(t, "full.wav", StandardRate, 3*StandardRate)
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{Workers: 2})

	id := uuid.New()
	buf := mgr.RegisterDecoding(id, buffer.Options{Policy: buffer.PolicyFull})
	pool.Submit(Request{PassageID: id, Path: path, Priority: PriorityCurrent})

	ready := waitEvent[buffer.ReadyForStart](t, mgr)
	assert.Equal(t, id, ready.PassageID)

	done := waitEvent[buffer.DecodeComplete](t, mgr)
	assert.Equal(t, int64(3*StandardRate), done.Frames)
	assert.True(t, buf.Complete())
	assert.Equal(t, int64(3*StandardRate), buf.TotalFrames())

	f, ok := buf.Frame(12345)
	require.True(t, ok)
	assert.InDelta(t, pattern(12345), float64(f[0]), 1.0/16384)
}

func TestPool_DecodeAndSkip(t *testing.T) {
	path := writeWAV(t, "skip.wav", StandardRate, StandardRate)
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{ChunkFrames: 1000})

	id := uuid.New()
	buf := mgr.RegisterDecoding(id, buffer.Options{})
	pool.Submit(Request{PassageID: id, Path: path, StartFrame: 1500, EndFrame: 4000})

	done := waitEvent[buffer.DecodeComplete](t, mgr)
	assert.Equal(t, int64(2500), done.Frames)
	assert.Equal(t, int64(2500), buf.TotalFrames())

	first, ok := buf.Frame(0)
	require.True(t, ok)
	assert.InDelta(t, pattern(1500), float64(first[0]), 1.0/16384)
	last, ok := buf.Frame(2499)
	require.True(t, ok)
	assert.InDelta(t, pattern(3999), float64(last[0]), 1.0/16384)
}

func TestPool_PrefixThenContinuation(t *testing.T) {
	path := writeWAV(t, "prefix.wav", StandardRate, StandardRate)
	cfg := buffer.DefaultConfig()
	cfg.PrefixDuration = 100 * time.Millisecond
	mgr, pool := startPool(t, cfg, PoolConfig{ChunkFrames: 1024})

	id := uuid.New()
	buf := mgr.RegisterDecoding(id, buffer.Options{Policy: buffer.PolicyPrefix})
	pool.Submit(Request{PassageID: id, Path: path, Priority: PriorityQueued})

	prefix := int64(StandardRate / 10)
	require.Eventually(t, func() bool {
		return buf.Frames() == prefix && !pool.Running(id)
	}, waitTimeout, 5*time.Millisecond)
	assert.False(t, buf.Complete())

	cont, err := mgr.Promote(id)
	require.NoError(t, err)
	require.True(t, cont)
	pool.Submit(Request{PassageID: id, Path: path, Priority: PriorityCurrent, Continuation: true})

	done := waitEvent[buffer.DecodeComplete](t, mgr)
	assert.Equal(t, int64(StandardRate), done.Frames)

	for _, pos := range []int64{prefix - 1, prefix, prefix + 1} {
		f, ok := buf.Frame(pos)
		require.True(t, ok)
		assert.InDelta(t, pattern(int(pos)), float64(f[0]), 1.0/16384, "frame %d", pos)
	}
}

func TestPool_ResamplesToStandardRate(t *testing.T) {
	path := writeWAV(t, "low.wav", 22050, 22050)
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{})

	id := uuid.New()
	mgr.RegisterDecoding(id, buffer.Options{})
	pool.Submit(Request{PassageID: id, Path: path})

	done := waitEvent[buffer.DecodeComplete](t, mgr)
	assert.InDelta(t, StandardRate, done.Frames, 256)
}

func TestPool_FailureMarksBufferFailed(t *testing.T) {
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{})

	id := uuid.New()
	buf := mgr.RegisterDecoding(id, buffer.Options{})
	pool.Submit(Request{PassageID: id, Path: "/nowhere/track.xyz"})

	failed := waitEvent[buffer.DecodeFailed](t, mgr)
	assert.Equal(t, id, failed.PassageID)
	require.ErrorIs(t, failed.Err, ErrUnsupportedFormat)
	assert.Equal(t, buffer.Failed, buf.State())
}

// gatedStream yields silence chunks, blocking before each until released.
type gatedStream struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	chunks  int
}

func (g *gatedStream) Stream(samples [][2]float64) (int, bool) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if g.chunks == 0 {
		return 0, false
	}
	g.chunks--
	clear(samples)
	return len(samples), true
}

func (g *gatedStream) Err() error   { return nil }
func (g *gatedStream) Close() error { return nil }

func TestPool_RemovedBufferDropsOutput(t *testing.T) {
	gate := &gatedStream{started: make(chan struct{}), release: make(chan struct{}), chunks: 100}
	open := func(string) (*Source, error) {
		return &Source{
			StreamCloser: gate,
			Format:       beep.Format{SampleRate: StandardRate, NumChannels: 2, Precision: 2},
			Codec:        "TEST",
		}, nil
	}
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{Open: open, ChunkFrames: 256})

	id := uuid.New()
	buf := mgr.RegisterDecoding(id, buffer.Options{})
	pool.Submit(Request{PassageID: id, Path: "gated"})

	select {
	case <-gate.started:
	case <-time.After(waitTimeout):
		t.Fatal("decode never started")
	}
	mgr.Remove(id)
	close(gate.release)

	require.Eventually(t, func() bool { return !pool.Running(id) }, waitTimeout, time.Millisecond)
	assert.Zero(t, buf.Frames())
	assert.Zero(t, mgr.Events().Len())
}

func TestPool_CancelStopsDecode(t *testing.T) {
	gate := &gatedStream{started: make(chan struct{}), release: make(chan struct{}), chunks: 1 << 20}
	open := func(string) (*Source, error) {
		return &Source{
			StreamCloser: gate,
			Format:       beep.Format{SampleRate: StandardRate, NumChannels: 2, Precision: 2},
		}, nil
	}
	mgr, pool := startPool(t, buffer.DefaultConfig(), PoolConfig{Open: open})

	id := uuid.New()
	mgr.RegisterDecoding(id, buffer.Options{})
	pool.Submit(Request{PassageID: id, Path: "gated"})
	<-gate.started

	pool.Cancel(id)
	close(gate.release)

	require.Eventually(t, func() bool { return !pool.Running(id) }, waitTimeout, time.Millisecond)
	for _, e := range mgr.Events().Drain() {
		_, failed := e.(buffer.DecodeFailed)
		assert.False(t, failed, "cancellation is not a failure")
	}
}

func TestJobQueue_PriorityThenFIFO(t *testing.T) {
	q := newJobQueue()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
	}
	q.push(Request{PassageID: ids[0], Priority: PriorityQueued})
	q.push(Request{PassageID: ids[1], Priority: PriorityNext})
	q.push(Request{PassageID: ids[2], Priority: PriorityQueued})
	q.push(Request{PassageID: ids[3], Priority: PriorityCurrent})
	q.push(Request{PassageID: ids[4], Priority: PriorityQueued})

	require.True(t, q.setPriority(ids[4], PriorityNext))
	require.True(t, q.remove(ids[2]))
	assert.False(t, q.remove(ids[2]))

	var order []uuid.UUID
	for {
		req, ok := q.pop()
		if !ok {
			break
		}
		order = append(order, req.PassageID)
	}
	assert.Equal(t, []uuid.UUID{ids[3], ids[1], ids[4], ids[0]}, order)
}

func TestJobQueue_PushReplacesPending(t *testing.T) {
	q := newJobQueue()
	id := uuid.New()
	q.push(Request{PassageID: id, Path: "a", Priority: PriorityNext})
	q.push(Request{PassageID: id, Path: "b", Priority: PriorityQueued})

	assert.Equal(t, 1, q.len())
	req, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", req.Path)
	assert.Equal(t, PriorityNext, req.Priority, "priority never drops on replace")
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "current", PriorityCurrent.String())
	assert.Equal(t, "next", PriorityNext.String())
	assert.Equal(t, "queued", PriorityQueued.String())
	assert.Equal(t, "unknown", Priority(42).String())
	assert.True(t, errors.Is(ErrEmptyStream, ErrEmptyStream))
}
