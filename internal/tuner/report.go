package tuner

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Confidence rates how much a recommendation can be trusted.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// Recommendation is a buffer configuration suggested to the engine.
type Recommendation struct {
	Interval   time.Duration
	BufferSize int
	Latency    time.Duration
}

// Host describes the machine the tuner ran on.
type Host struct {
	OS          string
	Arch        string
	LogicalCPUs int
	TotalMemory uint64
	UsedPercent float64
}

// Report is the outcome of a tuning run. Primary and Conservative are nil
// when no stable configuration was found; Best and Causes are set instead.
type Report struct {
	SampleRate    int
	Host          Host
	Trials        []Trial
	MinimumBuffer int
	Primary       *Recommendation
	Conservative  *Recommendation
	Confidence    Confidence
	Rationale     string
	Best          *Trial
	Causes        []Cause
	Elapsed       time.Duration
}

// Succeeded reports whether a recommendation was produced.
func (r *Report) Succeeded() bool { return r.Primary != nil }

func collectHost() Host {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if n, err := cpu.Counts(true); err == nil {
		h.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.TotalMemory = vm.Total
		h.UsedPercent = vm.UsedPercent
	}
	return h
}

func classColor(c Class) text.Color {
	switch c {
	case Stable:
		return text.FgGreen
	case Warning:
		return text.FgYellow
	default:
		return text.FgRed
	}
}

// Render writes a human readable report to w.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Host: %s/%s, %d CPUs, %s memory (%.0f%% used)\n",
		r.Host.OS, r.Host.Arch, r.Host.LogicalCPUs,
		humanize.IBytes(r.Host.TotalMemory), r.Host.UsedPercent)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Phase", "Buffer", "Interval", "Reads", "Underruns", "Rate", "Result"})
	for _, tr := range r.Trials {
		result := classColor(tr.Class).Sprint(tr.Class.String())
		if tr.Err != nil {
			result = text.FgRed.Sprint("error: " + tr.Err.Error())
		}
		t.AppendRow(table.Row{
			tr.Phase,
			humanize.Comma(int64(tr.BufferSize)),
			tr.Interval,
			humanize.Comma(int64(tr.Reads)),
			tr.Underruns,
			fmt.Sprintf("%.3f%%", tr.UnderrunRate*100),
			result,
		})
	}
	t.Render()

	if !r.Succeeded() {
		fmt.Fprintln(w, text.FgRed.Sprint("No stable configuration found."))
		if r.Best != nil {
			fmt.Fprintf(w, "Best observed: %d frames at %s (%.3f%% underruns)\n",
				r.Best.BufferSize, r.Best.Interval, r.Best.UnderrunRate*100)
		}
		for _, c := range r.Causes {
			fmt.Fprintf(w, "  - %s\n", c)
		}
		return
	}

	fmt.Fprintf(w, "Minimum stable buffer: %d frames\n", r.MinimumBuffer)
	fmt.Fprintf(w, "Recommended:  %s\n", formatRecommendation(r.Primary))
	fmt.Fprintf(w, "Conservative: %s\n", formatRecommendation(r.Conservative))
	fmt.Fprintf(w, "Confidence:   %s\n", r.Confidence)
	fmt.Fprintf(w, "%s\n", r.Rationale)
}

func formatRecommendation(rec *Recommendation) string {
	return fmt.Sprintf("%d frames, %s interval, %s latency",
		rec.BufferSize, rec.Interval, rec.Latency.Round(time.Millisecond/10))
}
