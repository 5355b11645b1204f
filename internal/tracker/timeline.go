// Package tracker follows the playback position of the lead passage and
// reports song boundaries and progress.
package tracker

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// RawEntry is a timeline row as stored.
type RawEntry struct {
	StartMs int64
	EndMs   int64
	// SongID is empty for a gap.
	SongID string
}

// Entry is a validated timeline entry covering [StartMs, EndMs).
type Entry struct {
	StartMs int64
	EndMs   int64
	// SongID is nil for a gap with no song.
	SongID *uuid.UUID
}

// Contains reports whether ms falls inside the entry.
func (e Entry) Contains(ms int64) bool {
	return ms >= e.StartMs && ms < e.EndMs
}

// Timeline is the sorted, non-overlapping list of songs in a passage.
type Timeline struct {
	entries []Entry
}

// NewTimeline validates raw rows. Rows with negative or empty ranges,
// unparsable song ids, or ranges overlapping an earlier row are dropped
// with a warning.
func NewTimeline(raw []RawEntry, log zerolog.Logger) *Timeline {
	parsed := lo.FilterMap(raw, func(r RawEntry, _ int) (Entry, bool) {
		if r.StartMs < 0 || r.EndMs <= r.StartMs {
			log.Warn().
				Int64("start_ms", r.StartMs).
				Int64("end_ms", r.EndMs).
				Msg("timeline entry with invalid range dropped")
			return Entry{}, false
		}
		e := Entry{StartMs: r.StartMs, EndMs: r.EndMs}
		if r.SongID != "" {
			id, err := uuid.Parse(r.SongID)
			if err != nil {
				log.Warn().Err(err).Str("song_id", r.SongID).Msg("timeline entry with invalid song id dropped")
				return Entry{}, false
			}
			e.SongID = &id
		}
		return e, true
	})

	slices.SortStableFunc(parsed, func(a, b Entry) int {
		return cmp.Compare(a.StartMs, b.StartMs)
	})

	entries := make([]Entry, 0, len(parsed))
	for _, e := range parsed {
		if n := len(entries); n > 0 && e.StartMs < entries[n-1].EndMs {
			log.Warn().
				Int64("start_ms", e.StartMs).
				Int64("previous_end_ms", entries[n-1].EndMs).
				Msg("overlapping timeline entry dropped")
			continue
		}
		entries = append(entries, e)
	}
	return &Timeline{entries: entries}
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the entries.
func (t *Timeline) Entries() []Entry {
	if t == nil {
		return nil
	}
	return slices.Clone(t.entries)
}

// Lookup returns the entry covering ms. ok is false in a gap.
func (t *Timeline) Lookup(ms int64) (Entry, bool) {
	idx := t.index(ms)
	if idx < 0 {
		return Entry{}, false
	}
	return t.entries[idx], true
}

// index returns the position of the entry covering ms, or -1.
func (t *Timeline) index(ms int64) int {
	if t == nil {
		return -1
	}
	// First entry ending after ms; entries are sorted and disjoint.
	i, _ := slices.BinarySearchFunc(t.entries, ms, func(e Entry, target int64) int {
		if e.EndMs <= target {
			return -1
		}
		return 1
	})
	if i < len(t.entries) && t.entries[i].Contains(ms) {
		return i
	}
	return -1
}
