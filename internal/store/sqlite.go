// internal/store/sqlite.go
//
// SQLite implementation of Store.
// Responsibilities:
//   - Opening the database with safe defaults (WAL, busy timeout, foreign keys).
//   - Applying the embedded migrations (idempotent, recorded in _migrations).
//   - Conditional updates via a per-row version column: read, run the closure,
//     then UPDATE … WHERE version = <read version>. A lost race re-reads and retries.
//
// Timestamps are stored as fixed-width UTC text so they sort lexically.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/converge/assets"
	"github.com/robalobadob/converge/internal/game"
)

const (
	timeLayout  = "2006-01-02T15:04:05.000000000Z"
	maxAttempts = 16
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (and creates if missing) the database at path and
// migrates it.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// migrate applies the embedded migrations in order, skipping those already
// recorded in _migrations. Each file runs in its own transaction.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	files, err := assets.Migrations()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, f := range files {
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, f.Name).Scan(&done)
		if err == nil {
			log.Debug().Str("migration", f.Name).Msg("already applied")
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(f.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", f.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, f.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", f.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f.Name, err)
		}
		log.Info().Str("migration", f.Name).Msg("applied")
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// constraint classifies a SQLite constraint violation.
func constraint(err error) (duplicate, missingParent bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return false, false
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return true, false
	case sqlite3.ErrConstraintForeignKey:
		return false, true
	}
	return false, false
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// ------------------------------- games -------------------------------------

func (s *SQLite) InsertGame(ctx context.Context, g *game.Game) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO games (id, player1, player2, current_round, status, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.Player1, nullString(g.Player2), sql.NullInt64{Int64: int64(g.CurrentRound), Valid: g.CurrentRound > 0},
		string(g.Status), formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if dup, _ := constraint(err); dup {
		return fmt.Errorf("game %s: %w", g.ID, ErrDuplicate)
	}
	return err
}

func (s *SQLite) getGame(ctx context.Context, id string) (*game.Game, int64, error) {
	var (
		g                game.Game
		p2               sql.NullString
		round            sql.NullInt64
		status           string
		created, updated string
		version          int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, player1, player2, current_round, status, created_at, updated_at, version
        FROM games WHERE id=?`, id,
	).Scan(&g.ID, &g.Player1, &p2, &round, &status, &created, &updated, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	g.Player2 = p2.String
	g.CurrentRound = int(round.Int64)
	g.Status = game.Status(status)
	if g.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, 0, fmt.Errorf("game %s: %w", id, err)
	}
	if g.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return nil, 0, fmt.Errorf("game %s: %w", id, err)
	}
	return &g, version, nil
}

func (s *SQLite) GetGame(ctx context.Context, id string) (*game.Game, error) {
	g, _, err := s.getGame(ctx, id)
	return g, err
}

func (s *SQLite) UpdateGame(ctx context.Context, id string, fn GameFunc) (*game.Game, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, version, err := s.getGame(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return cur, err
		}
		if err := next.Validate(); err != nil {
			return cur, err
		}
		res, err := s.db.ExecContext(ctx, `
            UPDATE games
            SET player2=?, current_round=?, status=?, updated_at=?, version=version+1
            WHERE id=? AND version=?`,
			nullString(next.Player2), sql.NullInt64{Int64: int64(next.CurrentRound), Valid: next.CurrentRound > 0},
			string(next.Status), formatTime(next.UpdatedAt), id, version,
		)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("game %s: %w", id, ErrContention)
}

func (s *SQLite) GamesForPlayer(ctx context.Context, player string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id FROM games WHERE player1=? OR player2=? ORDER BY rowid`, player, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ------------------------------- rounds ------------------------------------

type roundRow struct {
	guesses string
	results sql.NullString
	ended   sql.NullString
}

func encodeRound(r *game.Round) (roundRow, error) {
	var row roundRow
	g, err := json.Marshal(r.Guesses)
	if err != nil {
		return row, fmt.Errorf("marshal guesses: %w", err)
	}
	row.guesses = string(g)
	if r.Results != nil {
		b, err := json.Marshal(r.Results)
		if err != nil {
			return row, fmt.Errorf("marshal results: %w", err)
		}
		row.results = sql.NullString{String: string(b), Valid: true}
	}
	if r.EndedAt != nil {
		row.ended = sql.NullString{String: formatTime(*r.EndedAt), Valid: true}
	}
	return row, nil
}

func (s *SQLite) InsertRound(ctx context.Context, r *game.Round) error {
	row, err := encodeRound(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO rounds (game_id, number, optimal, stage, guesses, results, started_at, ended_at)
        VALUES (?,?,?,?,?,?,?,?)`,
		r.GameID, r.Number, nullString(r.Optimal), string(r.Stage), row.guesses, row.results,
		formatTime(r.StartedAt), row.ended,
	)
	switch dup, orphan := constraint(err); {
	case dup:
		return fmt.Errorf("round %s/%d: %w", r.GameID, r.Number, ErrDuplicate)
	case orphan:
		return fmt.Errorf("game %s: %w", r.GameID, ErrNotFound)
	}
	return err
}

const roundColumns = `game_id, number, optimal, stage, guesses, results, started_at, ended_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(sc scanner) (*game.Round, int64, error) {
	var (
		r       game.Round
		optimal sql.NullString
		stage   string
		guesses string
		results sql.NullString
		started string
		ended   sql.NullString
		version int64
	)
	if err := sc.Scan(&r.GameID, &r.Number, &optimal, &stage, &guesses, &results, &started, &ended, &version); err != nil {
		return nil, 0, err
	}
	r.Optimal = optimal.String
	r.Stage = game.Stage(stage)
	if err := json.Unmarshal([]byte(guesses), &r.Guesses); err != nil {
		return nil, 0, fmt.Errorf("unmarshal guesses: %w", err)
	}
	if results.Valid {
		r.Results = &game.Results{}
		if err := json.Unmarshal([]byte(results.String), r.Results); err != nil {
			return nil, 0, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	var err error
	if r.StartedAt, err = parseTime("started_at", started); err != nil {
		return nil, 0, err
	}
	if ended.Valid {
		t, err := parseTime("ended_at", ended.String)
		if err != nil {
			return nil, 0, err
		}
		r.EndedAt = &t
	}
	return &r, version, nil
}

func (s *SQLite) getRound(ctx context.Context, gameID string, n int) (*game.Round, int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE game_id=? AND number=?`, gameID, n)
	r, version, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("round %s/%d: %w", gameID, n, ErrNotFound)
	}
	return r, version, err
}

func (s *SQLite) GetRound(ctx context.Context, gameID string, n int) (*game.Round, error) {
	r, _, err := s.getRound(ctx, gameID, n)
	return r, err
}

func (s *SQLite) UpdateRound(ctx context.Context, gameID string, n int, fn RoundFunc) (*game.Round, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, version, err := s.getRound(ctx, gameID, n)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return cur, err
		}
		row, err := encodeRound(next)
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, `
            UPDATE rounds
            SET optimal=?, stage=?, guesses=?, results=?, ended_at=?, version=version+1
            WHERE game_id=? AND number=? AND version=?`,
			nullString(next.Optimal), string(next.Stage), row.guesses, row.results, row.ended,
			gameID, n, version,
		)
		if err != nil {
			return nil, err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if affected == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("round %s/%d: %w", gameID, n, ErrContention)
}

func (s *SQLite) ListRounds(ctx context.Context, gameID string) ([]*game.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE game_id=? ORDER BY number`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*game.Round{}
	for rows.Next() {
		r, _, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
