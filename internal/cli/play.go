package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/wavecore/internal/audio"
	"github.com/llehouerou/wavecore/internal/config"
	"github.com/llehouerou/wavecore/internal/engine"
	"github.com/llehouerou/wavecore/internal/errmsg"
	"github.com/llehouerou/wavecore/internal/fade"
	"github.com/llehouerou/wavecore/internal/metrics"
	"github.com/llehouerou/wavecore/internal/mpris"
	"github.com/llehouerou/wavecore/internal/notify"
)

type playOptions struct {
	null        bool
	fadeIn      time.Duration
	fadeOut     time.Duration
	overlap     time.Duration
	curve       string
	metricsAddr string
	interactive bool
	notify      bool
	mpris       bool
}

func playCmd(a *app) *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play FILE...",
		Short: "Play files in order, crossfading between them",
		Long: `Play audio files in order through the engine.

Fades default to the [fade] section of the configuration. Song boundaries
stored with "wavecore timeline add" are reported while playing.

With --interactive, commands are read from stdin:
  skip | pause | resume | seek SECONDS | queue | quit

Examples:
  wavecore play a.flac b.mp3
  wavecore play --fade-out 8s --fade-in 2s set1.flac set2.flac
  wavecore play --null --metrics-addr 127.0.0.1:9464 test.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desktop := a.cfg.GetDesktopConfig()
			if cmd.Flags().Changed("notify") {
				desktop.Notify = opts.notify
			}
			if cmd.Flags().Changed("mpris") {
				desktop.MediaControls = opts.mpris
			}
			return runPlay(cmd, a, opts, desktop, args)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.null, "null", false, "discard audio instead of using the sound device")
	f.DurationVar(&opts.fadeIn, "fade-in", -1, "fade-in duration (default from config)")
	f.DurationVar(&opts.fadeOut, "fade-out", -1, "fade-out duration (default from config)")
	f.DurationVar(&opts.overlap, "overlap", -1, "crossfade overlap cap (default from config)")
	f.StringVar(&opts.curve, "curve", "", "fade curve: linear, logarithmic, exponential, s-curve, equal-power")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (default from config)")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "read playback commands from stdin")
	f.BoolVar(&opts.notify, "notify", false, "show desktop notifications (default from config)")
	f.BoolVar(&opts.mpris, "mpris", false, "expose media controls over D-Bus (default from config)")
	return cmd
}

func (o playOptions) fades(a *app) (in, out fade.Fade, overlap time.Duration, err error) {
	in, out, overlap, err = a.cfg.GetFades()
	if err != nil {
		return in, out, overlap, err
	}
	if o.curve != "" {
		c, err := fade.ParseCurve(o.curve)
		if err != nil {
			return in, out, overlap, err
		}
		in.Curve, out.Curve = c, c
	}
	if o.fadeIn >= 0 {
		in.Duration = o.fadeIn
	}
	if o.fadeOut >= 0 {
		out.Duration = o.fadeOut
	}
	if o.overlap >= 0 {
		overlap = o.overlap
	}
	return in, out, overlap, nil
}

func runPlay(cmd *cobra.Command, a *app, opts playOptions, desktop config.DesktopConfig, files []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fadeIn, fadeOut, overlap, err := opts.fades(a)
	if err != nil {
		return err
	}

	entries := make([]engine.Entry, 0, len(files))
	for _, f := range files {
		path, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		id, err := a.store.PassageFor(ctx, path)
		if err != nil {
			return err
		}
		entries = append(entries, engine.Entry{
			PassageID: id,
			Path:      path,
			FadeIn:    fadeIn,
			FadeOut:   fadeOut,
			Overlap:   overlap,
		})
	}

	outCfg := a.cfg.GetOutputConfig()
	if opts.null {
		outCfg.Device = "null"
	}
	var output engine.Output
	if outCfg.Device == "null" {
		output = engine.NewClockOutput(audio.StandardRate, outCfg.BufferFrames)
	} else {
		restore := a.captureStderr()
		defer restore()
		output = engine.NewSpeakerOutput(audio.StandardRate, outCfg.BufferFrames)
	}

	m := metrics.New()
	addr := opts.metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	eng := engine.New(a.cfg.GetEngineConfig(), engine.Deps{
		Output:    output,
		Timelines: a.store,
		Metrics:   m,
		Log:       a.log,
	})
	sub := eng.Subscribe()

	if desktop.MediaControls {
		adapter, err := mpris.New(eng, a.log)
		if err != nil {
			a.log.Warn().Err(err).Msg(errmsg.Format(errmsg.OpMediaServer, err))
		} else {
			defer adapter.Close()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if _, err := eng.Enqueue(entries...); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	out := cmd.OutOrStdout()
	if opts.interactive {
		go readCommands(ctx, cmd.InOrStdin(), out, eng, cancel)
	}
	view := &playView{w: out, songs: a.songTitles, remaining: len(entries)}
	if desktop.Notify {
		n, err := notify.New()
		if err != nil {
			a.log.Warn().Err(err).Msg(errmsg.Format(errmsg.OpNotify, err))
		}
		view.announcer = notify.NewAnnouncer(n, int32(desktop.NotifyTimeoutMs), a.log)
	}
	g.Go(func() error {
		view.run(ctx, sub)
		cancel()
		return nil
	})
	return g.Wait()
}

// songTitles returns the titles of the songs stored for a passage.
func (a *app) songTitles(ctx context.Context, passage uuid.UUID) map[uuid.UUID]string {
	songs, err := a.store.Songs(ctx, passage)
	if err != nil {
		a.log.Warn().Err(err).Stringer("passage", passage).Msg(errmsg.Format(errmsg.OpTimeline, err))
		return nil
	}
	titles := make(map[uuid.UUID]string, len(songs))
	for _, s := range songs {
		if s.SongID != nil && s.Title != "" {
			titles[*s.SongID] = s.Title
		}
	}
	return titles
}

// playView prints engine events until every passage has finished or failed.
type playView struct {
	w         io.Writer
	announcer *notify.Announcer
	songs     func(ctx context.Context, passage uuid.UUID) map[uuid.UUID]string
	remaining int

	// finished holds the passages already counted: a failed passage is
	// reported both as completed and as an error.
	finished map[uuid.UUID]bool
	titles   map[uuid.UUID]string
	path     string
}

func (v *playView) run(ctx context.Context, sub *engine.Subscription) {
	defer func() {
		if v.announcer != nil {
			v.announcer.Dismiss()
		}
	}()
	for v.remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case e := <-sub.PassageStarted:
			v.started(ctx, e)
		case e := <-sub.PassageCompleted:
			v.finish(e.PassageID)
			if !e.Completed {
				fmt.Fprintf(v.w, "⏭ %s at %s\n", filepath.Base(e.Path), formatPosition(e.Position))
			}
		case e := <-sub.CurrentSongChanged:
			v.songChanged(e)
		case e := <-sub.Error:
			fmt.Fprintf(v.w, "✗ %s\n", errmsg.FormatWith(e.Operation, filepath.Base(e.Path), e.Err))
			if e.Operation == errmsg.OpDecode {
				v.finish(e.PassageID)
			}
		case <-sub.Progress:
		case <-sub.QueueChanged:
		}
	}
}

func (v *playView) finish(id uuid.UUID) {
	if v.finished[id] {
		return
	}
	if v.finished == nil {
		v.finished = make(map[uuid.UUID]bool)
	}
	v.finished[id] = true
	v.remaining--
}

func (v *playView) started(ctx context.Context, e engine.PassageStarted) {
	v.path = e.Path
	v.titles = nil
	if v.songs != nil {
		v.titles = v.songs(ctx, e.PassageID)
	}
	name := filepath.Base(e.Path)
	fmt.Fprintf(v.w, "▶ %s\n", name)
	if v.announcer != nil {
		v.announcer.Announce(name, "", e.Path)
	}
}

func (v *playView) songChanged(e engine.CurrentSongChanged) {
	if e.SongID == nil {
		fmt.Fprintf(v.w, "  %s  (between songs)\n", formatPosition(e.Position))
		return
	}
	title, ok := v.titles[*e.SongID]
	if !ok {
		title = "song " + shortID(*e.SongID)
	}
	fmt.Fprintf(v.w, "  %s  %s\n", formatPosition(e.Position), title)
	if v.announcer != nil && ok {
		v.announcer.Announce(title, filepath.Base(v.path), v.path)
	}
}

func readCommands(ctx context.Context, r io.Reader, w io.Writer, eng *engine.Engine, quit func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := runCommand(scanner.Text(), w, eng, quit); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

func runCommand(line string, w io.Writer, eng *engine.Engine, quit func()) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "skip", "n":
		return eng.Skip()
	case "pause", "p":
		if !eng.Pause() {
			eng.Resume()
		}
	case "resume", "r":
		eng.Resume()
	case "seek", "s":
		if len(fields) != 2 {
			return errors.New("usage: seek SECONDS")
		}
		secs, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		return eng.Seek(time.Duration(secs * float64(time.Second)))
	case "queue", "ls":
		for i, item := range eng.Queue() {
			marker := " "
			if item.Playing {
				marker = "▶"
			}
			fmt.Fprintf(w, "%s %d. %s [%s, %s buffered]\n", marker, i+1,
				filepath.Base(item.Path), item.State, formatPosition(item.Buffered))
		}
	case "quit", "q":
		quit()
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

func formatPosition(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

// shortID returns the first block of a uuid for display.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
