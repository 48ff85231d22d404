// Package manifest persists per-tile download outcomes in a SQLite
// database under the output root, enabling resumable runs.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/cddfetch/internal/domain"
	"github.com/jobrunner/cddfetch/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS tile_outcomes (
	collection  TEXT    NOT NULL,
	tile_id     TEXT    NOT NULL,
	outcome     TEXT    NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	run_id      TEXT    NOT NULL,
	recorded_at TEXT    NOT NULL,
	PRIMARY KEY (collection, tile_id)
);
CREATE INDEX IF NOT EXISTS idx_tile_outcomes_run ON tile_outcomes(run_id);
`

// Store implements output.ManifestStore on SQLite. One store serves all
// collections of one output root; rows are keyed by (collection, tile).
type Store struct {
	db *sql.DB
}

// Open opens (creating when necessary) the manifest database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest database: %w", err)
	}
	// The pipeline is strictly sequential; a single connection avoids
	// SQLite write contention entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing manifest schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record implements output.ManifestStore.
func (s *Store) Record(ctx context.Context, e output.ManifestEntry) error {
	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tile_outcomes (collection, tile_id, outcome, attempts, size_bytes, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, tile_id) DO UPDATE SET
			outcome = excluded.outcome,
			attempts = excluded.attempts,
			size_bytes = excluded.size_bytes,
			run_id = excluded.run_id,
			recorded_at = excluded.recorded_at`,
		e.Collection, e.TileID, string(e.Outcome), e.Attempts, e.SizeBytes,
		e.RunID, recordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %s/%s: %w", e.Collection, e.TileID, err)
	}
	return nil
}

// Lookup implements output.ManifestStore.
func (s *Store) Lookup(ctx context.Context, collection, tileID string) (output.ManifestEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT outcome, attempts, size_bytes, run_id, recorded_at
		FROM tile_outcomes WHERE collection = ? AND tile_id = ?`,
		collection, tileID,
	)

	var (
		outcome    string
		recordedAt string
		e          output.ManifestEntry
	)
	err := row.Scan(&outcome, &e.Attempts, &e.SizeBytes, &e.RunID, &recordedAt)
	if err == sql.ErrNoRows {
		return output.ManifestEntry{}, false, nil
	}
	if err != nil {
		return output.ManifestEntry{}, false, fmt.Errorf("looking up %s/%s: %w", collection, tileID, err)
	}

	e.Collection = collection
	e.TileID = tileID
	e.Outcome = domain.TaskOutcome(outcome)
	if t, perr := time.Parse(time.RFC3339, recordedAt); perr == nil {
		e.RecordedAt = t
	}
	return e, true, nil
}

// CollectionCounts implements output.ManifestStore.
func (s *Store) CollectionCounts(ctx context.Context, collection string) (map[domain.TaskOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM tile_outcomes
		WHERE collection = ? GROUP BY outcome`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("counting outcomes for %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskOutcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskOutcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Close implements output.ManifestStore.
func (s *Store) Close() error {
	return s.db.Close()
}
