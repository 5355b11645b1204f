package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/db"
	"github.com/llehouerou/wavecore/internal/tracker"
)

// Verify Store implements tracker.Source at compile time.
var _ tracker.Source = (*Store)(nil)

// Passage is a file registered for playback with a stable id.
type Passage struct {
	ID        uuid.UUID
	Path      string
	CreatedAt time.Time
	Songs     int
}

// Song is a stored timeline row.
type Song struct {
	StartMs int64
	EndMs   int64
	SongID  *uuid.UUID
	Title   string
}

// PassageFor returns the passage id of path, registering it if needed.
func (s *Store) PassageFor(ctx context.Context, path string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT id FROM passages WHERE path = ?`, path).Scan(&raw)
		if err == nil {
			id, err = uuid.Parse(raw)
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		id = uuid.New()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO passages (id, path, created_at) VALUES (?, ?, ?)`,
			id.String(), path, time.Now().Unix())
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("passage for %s: %w", path, err)
	}
	return id, nil
}

// Passage returns a registered passage.
func (s *Store) Passage(ctx context.Context, id uuid.UUID) (*Passage, error) {
	p := Passage{ID: id}
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT p.path, p.created_at, COUNT(ps.id)
		FROM passages p
		LEFT JOIN passage_songs ps ON ps.passage_id = p.id
		WHERE p.id = ?
		GROUP BY p.id
	`, id.String()).Scan(&p.Path, &created, &p.Songs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("passage %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0)
	return &p, nil
}

// Passages lists registered passages ordered by path.
func (s *Store) Passages(ctx context.Context) ([]Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.path, p.created_at, COUNT(ps.id)
		FROM passages p
		LEFT JOIN passage_songs ps ON ps.passage_id = p.id
		GROUP BY p.id
		ORDER BY p.path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var p Passage
		var raw string
		var created int64
		if err := rows.Scan(&raw, &p.Path, &created, &p.Songs); err != nil {
			return nil, err
		}
		if p.ID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("passage id %q: %w", raw, err)
		}
		p.CreatedAt = time.Unix(created, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveSongs replaces the timeline of a passage.
func (s *Store) SaveSongs(ctx context.Context, passageID uuid.UUID, songs []Song) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM passages WHERE id = ?`, passageID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("passage %s: %w", passageID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM passage_songs WHERE passage_id = ?`, passageID.String()); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO passage_songs (passage_id, start_ms, end_ms, song_id, title)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, song := range songs {
			var songID, title sql.NullString
			if song.SongID != nil {
				songID = sql.NullString{String: song.SongID.String(), Valid: true}
			}
			if song.Title != "" {
				title = sql.NullString{String: song.Title, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, passageID.String(), song.StartMs, song.EndMs, songID, title); err != nil {
				return err
			}
		}
		return nil
	})
}

// Songs returns the stored timeline of a passage ordered by start.
func (s *Store) Songs(ctx context.Context, passageID uuid.UUID) ([]Song, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ms, end_ms, song_id, title
		FROM passage_songs
		WHERE passage_id = ?
		ORDER BY start_ms
	`, passageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Song
	for rows.Next() {
		var song Song
		var songID, title sql.NullString
		if err := rows.Scan(&song.StartMs, &song.EndMs, &songID, &title); err != nil {
			return nil, err
		}
		if raw := db.NullStringValue(songID); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("song id %q: %w", raw, err)
			}
			song.SongID = &id
		}
		song.Title = db.NullStringValue(title)
		out = append(out, song)
	}
	return out, rows.Err()
}

// LoadTimeline implements tracker.Source. Rows are returned as stored;
// validation is left to the tracker.
func (s *Store) LoadTimeline(ctx context.Context, passageID uuid.UUID) ([]tracker.RawEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ms, end_ms, song_id
		FROM passage_songs
		WHERE passage_id = ?
		ORDER BY start_ms
	`, passageID.String())
	if err != nil {
		return nil, fmt.Errorf("load timeline %s: %w", passageID, err)
	}
	defer rows.Close()

	var out []tracker.RawEntry
	for rows.Next() {
		var e tracker.RawEntry
		var songID sql.NullString
		if err := rows.Scan(&e.StartMs, &e.EndMs, &songID); err != nil {
			return nil, err
		}
		e.SongID = db.NullStringValue(songID)
		out = append(out, e)
	}
	return out, rows.Err()
}
