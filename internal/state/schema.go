package state

import (
	"database/sql"
)

const currentSchemaVersion = 2

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS passages (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS passage_songs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			passage_id TEXT NOT NULL REFERENCES passages(id) ON DELETE CASCADE,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			song_id TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_passage_songs_passage ON passage_songs(passage_id, start_ms);
	`)
	if err != nil {
		return err
	}

	// Set initial version if not exists
	_, err = db.Exec(`
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	if err != nil {
		return err
	}

	// Migration: add title column to passage_songs if missing
	_, _ = db.Exec(`ALTER TABLE passage_songs ADD COLUMN title TEXT`)

	return nil
}
