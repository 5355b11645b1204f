package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/llehouerou/wavecore/internal/state"
)

func timelineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Manage song boundaries inside passages",
		Long: `Song boundaries tell the engine which song of a long passage (a DJ set,
a live recording) is currently playing. Times accept seconds ("95.5"),
minutes and seconds ("1:35.5") or Go durations ("1m35s").`,
	}
	cmd.AddCommand(timelineAddCmd(a))
	cmd.AddCommand(timelineListCmd(a))
	cmd.AddCommand(timelineClearCmd(a))
	return cmd
}

func timelineAddCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add FILE START END [SONG-ID]",
		Short: "Add a song to a passage timeline",
		Long: `Add a song to a passage timeline. Without SONG-ID, a new id is generated.

Examples:
  wavecore timeline add set.flac 0 4:12 --title "Intro"
  wavecore timeline add set.flac 4:12 9:30 6f1c...`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseOffset(args[1])
			if err != nil {
				return err
			}
			end, err := parseOffset(args[2])
			if err != nil {
				return err
			}
			song := state.Song{StartMs: start.Milliseconds(), EndMs: end.Milliseconds(), Title: title}
			id := uuid.New()
			if len(args) == 4 {
				if id, err = uuid.Parse(args[3]); err != nil {
					return fmt.Errorf("song id: %w", err)
				}
			}
			song.SongID = &id

			ctx := cmd.Context()
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			passage, err := a.store.PassageFor(ctx, path)
			if err != nil {
				return err
			}
			songs, err := a.store.Songs(ctx, passage)
			if err != nil {
				return err
			}
			if songs, err = insertSong(songs, song); err != nil {
				return err
			}
			if err := a.store.SaveSongs(ctx, passage, songs); err != nil {
				return err
			}
			cmd.Printf("Added %s (%s - %s) to %s\n", id, formatOffset(start), formatOffset(end), filepath.Base(path))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "song title shown in listings")
	return cmd
}

func timelineListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [FILE]",
		Short: "List registered passages, or the songs of one passage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)

			if len(args) == 0 {
				passages, err := a.store.Passages(ctx)
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"ID", "File", "Songs", "Added"})
				for _, p := range passages {
					t.AppendRow(table.Row{shortID(p.ID), filepath.Base(p.Path), p.Songs, humanize.Time(p.CreatedAt)})
				}
				t.Render()
				return nil
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			passage, err := a.store.PassageFor(ctx, path)
			if err != nil {
				return err
			}
			songs, err := a.store.Songs(ctx, passage)
			if err != nil {
				return err
			}
			t.SetTitle(filepath.Base(path))
			t.AppendHeader(table.Row{"#", "Start", "End", "Song", "Title"})
			for i, s := range songs {
				id := "-"
				if s.SongID != nil {
					id = s.SongID.String()
				}
				t.AppendRow(table.Row{
					i + 1,
					formatOffset(time.Duration(s.StartMs) * time.Millisecond),
					formatOffset(time.Duration(s.EndMs) * time.Millisecond),
					id,
					s.Title,
				})
			}
			t.Render()
			return nil
		},
	}
}

func timelineClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear FILE",
		Short: "Remove every song from a passage timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			passage, err := a.store.PassageFor(cmd.Context(), path)
			if err != nil {
				return err
			}
			return a.store.SaveSongs(cmd.Context(), passage, nil)
		},
	}
}

var errOverlap = errors.New("song overlaps an existing song")

// insertSong adds song to a timeline kept sorted by start time.
func insertSong(songs []state.Song, song state.Song) ([]state.Song, error) {
	if song.EndMs <= song.StartMs {
		return nil, fmt.Errorf("song ends at %s before it starts at %s",
			formatOffset(time.Duration(song.EndMs)*time.Millisecond),
			formatOffset(time.Duration(song.StartMs)*time.Millisecond))
	}
	i, _ := slices.BinarySearchFunc(songs, song.StartMs, func(s state.Song, start int64) int {
		return int(s.StartMs - start)
	})
	if i > 0 && songs[i-1].EndMs > song.StartMs {
		return nil, fmt.Errorf("%w: %s", errOverlap, describe(songs[i-1]))
	}
	if i < len(songs) && songs[i].StartMs < song.EndMs {
		return nil, fmt.Errorf("%w: %s", errOverlap, describe(songs[i]))
	}
	return slices.Insert(slices.Clip(songs), i, song), nil
}

func describe(s state.Song) string {
	span := formatOffset(time.Duration(s.StartMs)*time.Millisecond) + " - " +
		formatOffset(time.Duration(s.EndMs)*time.Millisecond)
	if s.Title != "" {
		return fmt.Sprintf("%q (%s)", s.Title, span)
	}
	return span
}

// parseOffset parses "95.5", "1:35.5", "1:02:03" or a Go duration.
func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative offset %q", s)
		}
		return d, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		// Only the last field may carry a fraction; only the first may exceed 59.
		if i < len(parts)-1 && v != float64(int(v)) {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		total = total*60 + v
	}
	return time.Duration(total * float64(time.Second)).Round(time.Millisecond), nil
}

func formatOffset(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(int(d.Minutes())*60)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%06.3f", h, m, s)
	}
	return fmt.Sprintf("%d:%06.3f", m, s)
}
