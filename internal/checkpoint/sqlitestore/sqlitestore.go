// Package sqlitestore keeps checkpoints in a SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	token      BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

type Store struct {
	db *sql.DB
}

var _ checkpoint.Store = &Store{}

// Open opens or creates the SQLite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %#q", path)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "creating checkpoint table in %#q", path)
	}

	return &Store{db}, nil
}

func (s *Store) Load(ctx context.Context, runID string) (mo.Option[bson.Raw], error) {
	var token []byte

	err := s.db.QueryRowContext(
		ctx,
		`SELECT token FROM checkpoints WHERE run_id = ?`,
		runID,
	).Scan(&token)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return mo.None[bson.Raw](), nil
	case err != nil:
		return mo.None[bson.Raw](), errors.Wrapf(err, "loading checkpoint for run %#q", runID)
	}

	return mo.Some(bson.Raw(token)), nil
}

func (s *Store) Save(ctx context.Context, runID string, token bson.Raw) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (run_id, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		runID,
		[]byte(token),
		time.Now().UTC().Format(time.RFC3339Nano),
	)

	return errors.Wrapf(err, "saving checkpoint for run %#q", runID)
}

func (s *Store) Close() error {
	return s.db.Close()
}
