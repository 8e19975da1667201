package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/robalobadob/converge/internal/game"
)

func TestSQLiteCorruptTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "converge.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	newGame(t, s, "g1", "alice")
	if err := s.InsertRound(ctx, game.NewRound("g1", 1, "", now)); err != nil {
		t.Fatalf("InsertRound failed: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE games SET created_at='garbage' WHERE id='g1'`); err != nil {
		t.Fatalf("corrupt game: %v", err)
	}
	if g, err := s.GetGame(ctx, "g1"); err == nil {
		t.Errorf("GetGame with bad created_at = %+v, want error", g)
	}
	if _, err := s.UpdateGame(ctx, "g1", join("bob")); err == nil {
		t.Error("UpdateGame with bad created_at succeeded")
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE rounds SET started_at='garbage' WHERE game_id='g1'`); err != nil {
		t.Fatalf("corrupt round: %v", err)
	}
	if r, err := s.GetRound(ctx, "g1", 1); err == nil {
		t.Errorf("GetRound with bad started_at = %+v, want error", r)
	}
	if _, err := s.ListRounds(ctx, "g1"); err == nil {
		t.Error("ListRounds with bad started_at succeeded")
	}
}
