// Package cli implements the wavecore command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/llehouerou/wavecore/internal/config"
	"github.com/llehouerou/wavecore/internal/logging"
	"github.com/llehouerou/wavecore/internal/state"
	"github.com/llehouerou/wavecore/internal/stderr"
)

// app is the environment shared by every subcommand.
type app struct {
	cfg     *config.Config
	store   *state.Store
	log     zerolog.Logger
	logOpts logging.Options
	logFile io.Closer

	// flags
	dbPath   string
	logLevel string
	verbose  bool
}

// Root returns the wavecore root command.
func Root(version string) *cobra.Command {
	cmd, _ := newRoot(version)
	return cmd
}

func newRoot(version string) (*cobra.Command, *app) {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "wavecore",
		Short:         "Crossfading audio playback engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "settings and timeline database (default: XDG data dir)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	cmd.AddCommand(playCmd(a))
	cmd.AddCommand(tuneCmd(a))
	cmd.AddCommand(timelineCmd(a))
	cmd.AddCommand(configCmd(a))
	return cmd, a
}

// Execute runs the root command and reports errors on stderr.
func Execute(ctx context.Context, version string) int {
	cmd, a := newRoot(version)
	// PersistentPostRun is skipped when a command fails.
	defer a.close()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wavecore: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) open(ctx context.Context) error {
	// Files first: they may point at the database holding the rest.
	cfg, err := config.Load(ctx, nil)
	if err != nil {
		return err
	}

	path := a.dbPath
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		a.store, err = state.Open()
	} else {
		a.store, err = state.OpenPath(path)
	}
	if err != nil {
		return err
	}

	if a.cfg, err = config.Load(ctx, a.store); err != nil {
		a.close()
		return err
	}

	opts := logging.Options{Level: a.cfg.Log.Level, Pretty: true}
	if a.cfg.Log.Pretty != nil {
		opts.Pretty = *a.cfg.Log.Pretty
	}
	if a.logLevel != "" {
		opts.Level = a.logLevel
	} else if a.verbose {
		opts.Level = "debug"
	}
	if a.cfg.Log.File != "" {
		f, err := logging.OpenFile(a.cfg.Log.File)
		if err != nil {
			a.close()
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		opts.Writer = f
		opts.Pretty = false
	}
	a.logOpts = opts
	a.log, err = logging.New(opts)
	if err != nil {
		a.close()
		return err
	}
	return nil
}

// captureStderr routes output of C libraries into the logger, which keeps
// writing to the original stderr. The returned func undoes the redirection.
func (a *app) captureStderr() func() {
	c, err := stderr.Start()
	if err != nil {
		a.log.Debug().Err(err).Msg("stderr capture unavailable")
		return func() {}
	}
	if a.logFile == nil {
		opts := a.logOpts
		opts.Writer = c.Original()
		if l, err := logging.New(opts); err == nil {
			a.log = l
		}
	}
	log := a.log
	go func() {
		for line := range c.Lines() {
			log.Warn().Str("source", "stderr").Msg(line)
		}
	}()
	return c.Stop
}

func (a *app) close() error {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
