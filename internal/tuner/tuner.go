// Package tuner searches for the smallest output buffer and mixer interval
// that play without underruns on the current host.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/ringbuffer"
)

// ErrNoStableConfig is returned with a diagnostic report when no tested
// configuration was stable.
var ErrNoStableConfig = errors.New("no stable buffer configuration found")

// Class is the stability class of a measured configuration.
type Class int

const (
	Unstable Class = iota
	Warning
	Stable
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Stable:
		return "stable"
	case Warning:
		return "warning"
	default:
		return "unstable"
	}
}

// Viable reports whether the class may be recommended.
func (c Class) Viable() bool { return c >= Warning }

// Cause is a likely root cause of a failed tuning run.
type Cause int

const (
	CauseDeviceUnavailable Cause = iota
	CausePermission
	CauseBackendInit
	CauseScheduling
)

// String describes the cause.
func (c Cause) String() string {
	switch c {
	case CauseDeviceUnavailable:
		return "output device unavailable"
	case CausePermission:
		return "permission denied opening the output device"
	case CauseBackendInit:
		return "audio backend failed to initialize"
	case CauseScheduling:
		return "host cannot keep up: CPU contention or scheduling latency"
	default:
		return "unknown"
	}
}

func classifyOpenError(err error) Cause {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return CausePermission
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, fs.ErrNotExist):
		return CauseDeviceUnavailable
	default:
		return CauseBackendInit
	}
}

// Config controls the search.
type Config struct {
	SampleRate int
	// BufferSizes are the Phase 1 output buffer sizes in frames, ascending.
	BufferSizes []int
	// Intervals are the candidate mixer check intervals.
	Intervals []time.Duration
	// TrialDuration is how long each configuration is measured.
	TrialDuration time.Duration
	// SafetyMargin is the extra fraction of audio produced per interval.
	SafetyMargin float64
	// Granularity is the Phase 2 search resolution in frames.
	Granularity int
	// StableBelow and WarningBelow are underrun rate limits.
	StableBelow  float64
	WarningBelow float64
	// PrimaryMargin and ConservativeMargin multiply the minimum buffer.
	PrimaryMargin      int
	ConservativeMargin int
}

// DefaultConfig returns the default search space.
func DefaultConfig() Config {
	return Config{
		SampleRate:  audio.StandardRate,
		BufferSizes: []int{512, 1024, 2048, 4096},
		Intervals: []time.Duration{
			5 * time.Millisecond,
			10 * time.Millisecond,
			20 * time.Millisecond,
			50 * time.Millisecond,
		},
		TrialDuration:      2 * time.Second,
		SafetyMargin:       0.1,
		Granularity:        64,
		StableBelow:        0.001,
		WarningBelow:       0.01,
		PrimaryMargin:      2,
		ConservativeMargin: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if len(c.BufferSizes) == 0 {
		c.BufferSizes = d.BufferSizes
	}
	c.BufferSizes = slices.Sorted(slices.Values(c.BufferSizes))
	if len(c.Intervals) == 0 {
		c.Intervals = d.Intervals
	}
	if c.TrialDuration <= 0 {
		c.TrialDuration = d.TrialDuration
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = d.SafetyMargin
	}
	if c.Granularity <= 0 {
		c.Granularity = d.Granularity
	}
	if c.StableBelow <= 0 {
		c.StableBelow = d.StableBelow
	}
	if c.WarningBelow <= c.StableBelow {
		c.WarningBelow = max(d.WarningBelow, c.StableBelow)
	}
	if c.PrimaryMargin <= 0 {
		c.PrimaryMargin = d.PrimaryMargin
	}
	if c.ConservativeMargin <= 0 {
		c.ConservativeMargin = d.ConservativeMargin
	}
	return c
}

// Trial is one measured configuration.
type Trial struct {
	Phase        int
	BufferSize   int
	Interval     time.Duration
	Reads        uint64
	Underruns    uint64
	UnderrunRate float64
	Class        Class
	// Err is set when the sink could not be opened or failed while running.
	Err error
}

// Tuner runs the two-phase search.
type Tuner struct {
	cfg     Config
	newSink func() Sink
	log     zerolog.Logger
}

// New creates a tuner. newSink is called once per trial.
func New(cfg Config, newSink func() Sink, log zerolog.Logger) *Tuner {
	if newSink == nil {
		newSink = NewClockSink
	}
	return &Tuner{
		cfg:     cfg.withDefaults(),
		newSink: newSink,
		log:     log.With().Str("component", "tuner").Logger(),
	}
}

// Run performs the search. On failure it returns the report together with
// an error wrapping ErrNoStableConfig.
func (t *Tuner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{SampleRate: t.cfg.SampleRate, Host: collectHost()}

	// Phase 1: interval discovery, smallest buffer first.
	working := 0
	var viable []time.Duration
	for _, size := range t.cfg.BufferSizes {
		for _, interval := range t.cfg.Intervals {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			trial := t.measure(ctx, 1, size, interval)
			report.Trials = append(report.Trials, trial)
			if trial.Class.Viable() {
				viable = append(viable, interval)
			}
		}
		if len(viable) > 0 {
			working = size
			break
		}
	}

	if working == 0 {
		report.Elapsed = time.Since(started)
		return report, t.exhausted(report)
	}

	// Phase 2: smallest stable buffer per viable interval.
	type candidate struct {
		interval time.Duration
		size     int
		class    Class
	}
	var found []candidate
	for _, interval := range viable {
		size, class, err := t.minimize(ctx, report, working, interval)
		if err != nil {
			return report, err
		}
		found = append(found, candidate{interval: interval, size: size, class: class})
	}

	best := slices.MinFunc(found, func(a, b candidate) int {
		if a.class != b.class {
			return int(b.class) - int(a.class)
		}
		if a.size != b.size {
			return a.size - b.size
		}
		return int(a.interval - b.interval)
	})

	report.Primary = t.recommend(best.interval, best.size, t.cfg.PrimaryMargin)
	report.Conservative = t.recommend(best.interval, best.size, t.cfg.ConservativeMargin)
	report.MinimumBuffer = best.size
	switch {
	case best.class == Stable && best.size < working:
		report.Confidence = ConfidenceHigh
	case best.class == Stable:
		report.Confidence = ConfidenceMedium
	default:
		report.Confidence = ConfidenceLow
	}
	report.Rationale = fmt.Sprintf(
		"%d frames at a %s mixer interval was the smallest %s configuration (Phase 1 working size %d); recommended with a %dx margin",
		best.size, best.interval, best.class, working, t.cfg.PrimaryMargin,
	)
	report.Elapsed = time.Since(started)
	t.log.Info().
		Int("buffer_size", report.Primary.BufferSize).
		Dur("interval", report.Primary.Interval).
		Str("confidence", report.Confidence.String()).
		Msg("tuning complete")
	return report, nil
}

// minimize binary-searches [working/4, working] for the smallest stable size.
func (t *Tuner) minimize(ctx context.Context, report *Report, working int, interval time.Duration) (int, Class, error) {
	class := Unstable
	for _, tr := range report.Trials {
		if tr.BufferSize == working && tr.Interval == interval {
			class = tr.Class
		}
	}

	lo := max(working/4, t.cfg.Granularity)
	hi := working
	for hi-lo > t.cfg.Granularity {
		if err := ctx.Err(); err != nil {
			return 0, class, err
		}
		mid := (lo + hi) / 2
		mid -= mid % t.cfg.Granularity
		if mid <= lo {
			break
		}
		trial := t.measure(ctx, 2, mid, interval)
		report.Trials = append(report.Trials, trial)
		if trial.Class == Stable {
			hi = mid
			class = Stable
		} else {
			lo = mid
		}
	}
	return hi, class, nil
}

func (t *Tuner) recommend(interval time.Duration, size, margin int) *Recommendation {
	buffer := size * margin
	return &Recommendation{
		Interval:   interval,
		BufferSize: buffer,
		Latency:    audio.DurationOf(int64(buffer), t.cfg.SampleRate),
	}
}

// exhausted fills the diagnostic part of a failed report.
func (t *Tuner) exhausted(report *Report) error {
	var causes []Cause
	for i := range report.Trials {
		tr := &report.Trials[i]
		if tr.Err != nil {
			if c := classifyOpenError(tr.Err); !slices.Contains(causes, c) {
				causes = append(causes, c)
			}
			continue
		}
		if report.Best == nil || tr.UnderrunRate < report.Best.UnderrunRate {
			report.Best = tr
		}
	}
	if report.Best != nil && !slices.Contains(causes, CauseScheduling) {
		causes = append(causes, CauseScheduling)
	}
	slices.Sort(causes)
	report.Causes = causes

	descr := make([]string, len(causes))
	for i, c := range causes {
		descr[i] = c.String()
	}
	maxSize := t.cfg.BufferSizes[len(t.cfg.BufferSizes)-1]
	t.log.Error().
		Int("trials", len(report.Trials)).
		Int("max_buffer", maxSize).
		Strs("causes", descr).
		Msg("tuning failed")
	return fmt.Errorf("%w: %d configurations tested up to %d frames; likely causes: %s",
		ErrNoStableConfig, len(report.Trials), maxSize, strings.Join(descr, "; "))
}

// measure plays synthetic audio through a fresh sink for TrialDuration.
func (t *Tuner) measure(ctx context.Context, phase, size int, interval time.Duration) Trial {
	trial := Trial{Phase: phase, BufferSize: size, Interval: interval}
	log := t.log.With().Int("phase", phase).Int("buffer_size", size).Dur("interval", interval).Logger()

	sink := t.newSink()
	if err := sink.Open(Format{SampleRate: t.cfg.SampleRate, BufferSize: size}); err != nil {
		log.Warn().Err(err).Msg("sink open failed")
		trial.Err = err
		return trial
	}
	defer sink.Close()

	perTick := int(math.Ceil(float64(audio.FramesFor(interval, t.cfg.SampleRate)) * (1 + t.cfg.SafetyMargin)))
	ring := ringbuffer.New(size + 2*perTick)
	gen := &sine{rate: float64(t.cfg.SampleRate), freq: 440, amp: 0.2}
	ring.PushSlice(gen.next(size + perTick))
	ring.ArmGrace(size)

	trialCtx, cancel := context.WithTimeout(ctx, t.cfg.TrialDuration)
	defer cancel()

	g, gctx := errgroup.WithContext(trialCtx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				ring.PushSlice(gen.next(min(perTick, ring.Free())))
			}
		}
	})
	g.Go(func() error {
		return sink.Run(gctx, func(dst [][2]float64) { ring.ReadInto(dst) })
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("sink failed")
		trial.Err = err
		return trial
	}

	stats := ring.Stats()
	trial.Reads = stats.Reads
	trial.Underruns = stats.Underruns
	trial.UnderrunRate = stats.UnderrunRate()
	switch {
	case trial.UnderrunRate < t.cfg.StableBelow:
		trial.Class = Stable
	case trial.UnderrunRate < t.cfg.WarningBelow:
		trial.Class = Warning
	default:
		trial.Class = Unstable
	}
	log.Debug().
		Uint64("underruns", trial.Underruns).
		Float64("rate", trial.UnderrunRate).
		Stringer("class", trial.Class).
		Msg("trial measured")
	return trial
}

type sine struct {
	rate  float64
	freq  float64
	amp   float64
	phase float64
}

func (s *sine) next(n int) []audio.Frame {
	out := make([]audio.Frame, max(n, 0))
	step := 2 * math.Pi * s.freq / s.rate
	for i := range out {
		v := float32(s.amp * math.Sin(s.phase))
		out[i] = audio.Frame{v, v}
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return out
}
