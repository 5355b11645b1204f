package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/llehouerou/wavecore/internal/state"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit persistent settings",
		Long: `Settings are stored in the wavecore database and override config.toml.
Keys use the config file layout with dots, e.g. output.buffer_frames or
fade.curve.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective engine and output configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			showConfig(cmd, a)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.store.Settings(cmd.Context())
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Value"})
			for _, k := range slices.Sorted(maps.Keys(settings)) {
				t.AppendRow(table.Row{k, settings[k]})
			}
			t.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.store.Setting(cmd.Context(), args[0])
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("setting %q is not set", args[0])
			}
			if err != nil {
				return err
			}
			cmd.Println(v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.SetSetting(cmd.Context(), args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.store.DeleteSetting(cmd.Context(), args[0])
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("setting %q is not set", args[0])
			}
			return err
		},
	})
	return cmd
}

func showConfig(cmd *cobra.Command, a *app) {
	eng := a.cfg.GetEngineConfig()
	out := a.cfg.GetOutputConfig()
	in, fadeOut, overlap, err := a.cfg.GetFades()

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"output.device", out.Device},
		{"output.buffer_frames", out.BufferFrames},
		{"output.ring_frames", eng.RingFrames},
		{"output.tick_interval", eng.TickInterval},
		{"engine.ready_threshold", eng.Buffer.ReadyThreshold},
		{"engine.first_passage_threshold", eng.Buffer.FirstPassageThreshold},
		{"engine.prefix", eng.Buffer.PrefixDuration},
		{"engine.lookahead", eng.Lookahead},
		{"decoder.workers", eng.Pool.Workers},
		{"decoder.chunk_frames", eng.Pool.ChunkFrames},
	})
	if err != nil {
		t.AppendRow(table.Row{"fade", err.Error()})
	} else {
		t.AppendRows([]table.Row{
			{"fade.curve", in.Curve},
			{"fade.fade_in", in.Duration},
			{"fade.fade_out", fadeOut.Duration},
			{"fade.overlap", overlap},
		})
	}
	t.Render()
}
