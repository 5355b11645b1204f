package cli

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llehouerou/wavecore/internal/tuner"
)

func tuneCmd(a *app) *cobra.Command {
	var (
		trial time.Duration
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Find the smallest stable output buffer for this machine",
		Long: `Measure underruns across buffer sizes and mixer intervals and print
recommended output settings.

The first phase tries each buffer size with every interval until one is
stable. The second phase narrows down the smallest stable size. Trials
last --trial each, so a full run takes up to a minute.

With --save, the primary recommendation is written to the settings
store as output.buffer_frames and output.tick_interval_ms.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg.GetTunerConfig()
			if trial > 0 {
				cfg.TrialDuration = trial
			}
			report, err := tuner.New(cfg, tuner.NewClockSink, a.log).Run(ctx)
			if report != nil {
				report.Render(cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}
			if !save {
				return nil
			}

			rec := report.Primary
			if err := a.store.SetSetting(ctx, "output.buffer_frames", strconv.Itoa(rec.BufferSize)); err != nil {
				return err
			}
			ms := strconv.FormatInt(rec.Interval.Milliseconds(), 10)
			if err := a.store.SetSetting(ctx, "output.tick_interval_ms", ms); err != nil {
				return err
			}
			cmd.Printf("Saved buffer_frames=%d tick_interval_ms=%s\n", rec.BufferSize, ms)
			return nil
		},
	}
	cmd.Flags().DurationVar(&trial, "trial", 0, "duration of each trial (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "store the primary recommendation in the settings")
	return cmd
}
