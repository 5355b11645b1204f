// Package metrics holds the prometheus collectors exported by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wavecore"

// Metrics groups the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	Underruns        prometheus.Counter
	Overruns         prometheus.Counter
	Starvations      prometheus.Counter
	DecodeFailures   prometheus.Counter
	PassagesFinished *prometheus.CounterVec
	BufferedPassages prometheus.Gauge
	RingFill         prometheus.Gauge
	PlayedSeconds    *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Underruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_underruns_total",
			Help:      "Output ring buffer underruns while audio was expected.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_overrun_frames_total",
			Help:      "Frames rejected because the output ring buffer was full.",
		}),
		Starvations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mixer_starvations_total",
			Help:      "Times the mixer stopped output because a passage ran out of decoded audio.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Passages whose decode failed.",
		}),
		PassagesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passages_finished_total",
			Help:      "Passages that left the mixer, by whether they played to the end.",
		}, []string{"completed"}),
		BufferedPassages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_passages",
			Help:      "Passage buffers currently held in memory.",
		}),
		RingFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_fill_frames",
			Help:      "Frames waiting in the output ring buffer.",
		}),
		PlayedSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "played_seconds_total",
			Help:      "Seconds of audio written to the output, by passage.",
		}, []string{"passage"}),
	}
	m.registry.MustRegister(
		m.Underruns,
		m.Overruns,
		m.Starvations,
		m.DecodeFailures,
		m.PassagesFinished,
		m.BufferedPassages,
		m.RingFill,
		m.PlayedSeconds,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Underrun records one underrun.
func (m *Metrics) Underrun() {
	if m != nil {
		m.Underruns.Inc()
	}
}

// Overrun records rejected frames.
func (m *Metrics) Overrun(frames uint64) {
	if m != nil && frames > 0 {
		m.Overruns.Add(float64(frames))
	}
}

// Starved records a mixer starvation.
func (m *Metrics) Starved() {
	if m != nil {
		m.Starvations.Inc()
	}
}

// DecodeFailed records a failed decode.
func (m *Metrics) DecodeFailed() {
	if m != nil {
		m.DecodeFailures.Inc()
	}
}

// PassageFinished records a passage leaving the mixer and drops its
// played-seconds series.
func (m *Metrics) PassageFinished(passage string, completed bool) {
	if m == nil {
		return
	}
	label := "false"
	if completed {
		label = "true"
	}
	m.PassagesFinished.WithLabelValues(label).Inc()
	m.PlayedSeconds.DeleteLabelValues(passage)
}

// Played adds output time to a passage.
func (m *Metrics) Played(passage string, seconds float64) {
	if m != nil && seconds > 0 {
		m.PlayedSeconds.WithLabelValues(passage).Add(seconds)
	}
}

// SetBuffered sets the number of buffers held.
func (m *Metrics) SetBuffered(n int) {
	if m != nil {
		m.BufferedPassages.Set(float64(n))
	}
}

// SetRingFill sets the ring buffer fill level.
func (m *Metrics) SetRingFill(frames int) {
	if m != nil {
		m.RingFill.Set(float64(frames))
	}
}
