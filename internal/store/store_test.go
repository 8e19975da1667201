package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/converge/internal/game"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "converge.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return s
		}},
		{"bolt", func(t *testing.T) Store {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "converge.bolt"))
			if err != nil {
				t.Fatalf("OpenBolt failed: %v", err)
			}
			return s
		}},
	}
}

// forEach runs fn against a fresh store of every backend.
func forEach(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func newGame(t *testing.T, s Store, id, player1 string) *game.Game {
	t.Helper()
	g, err := game.NewGame(id, player1, now)
	if err != nil {
		t.Fatalf("NewGame failed: %v", err)
	}
	if err := s.InsertGame(context.Background(), g); err != nil {
		t.Fatalf("InsertGame failed: %v", err)
	}
	return g
}

func join(player string) GameFunc {
	return func(g *game.Game) error { return g.Join(player, now) }
}

type constScorer struct{}

func (constScorer) ScoreRound(w1, w2, optimal string) game.Results {
	s := 0.25
	return game.Results{Similarity: &s, ToOptimal: []*float64{nil, &s}}
}

func TestGames(t *testing.T) {
	t.Parallel()

	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "alice")

		dup, _ := game.NewGame("g1", "carol", now)
		if err := s.InsertGame(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("duplicate InsertGame err = %v, want ErrDuplicate", err)
		}
		if _, err := s.GetGame(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetGame(nope) err = %v, want ErrNotFound", err)
		}

		got, err := s.GetGame(ctx, "g1")
		if err != nil {
			t.Fatalf("GetGame failed: %v", err)
		}
		if got.Player1 != "alice" || got.Status != game.StatusPending || !got.CreatedAt.Equal(now) {
			t.Errorf("GetGame = %+v", got)
		}

		updated, err := s.UpdateGame(ctx, "g1", join("bob"))
		if err != nil {
			t.Fatalf("UpdateGame failed: %v", err)
		}
		if updated.Player2 != "bob" || updated.CurrentRound != 1 || updated.Status != game.StatusInProgress {
			t.Errorf("UpdateGame = %+v", updated)
		}

		// precondition fails: nothing written, current document returned
		cur, err := s.UpdateGame(ctx, "g1", join("carol"))
		if !errors.Is(err, game.ErrNotPending) {
			t.Fatalf("second join err = %v, want ErrNotPending", err)
		}
		if cur == nil || cur.Player2 != "bob" {
			t.Errorf("failed update returned %+v, want stored game", cur)
		}
		if _, err := s.UpdateGame(ctx, "nope", join("bob")); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateGame(nope) err = %v, want ErrNotFound", err)
		}

		// invalid documents are refused
		if _, err := s.UpdateGame(ctx, "g1", func(g *game.Game) error { g.Player2 = ""; return nil }); err == nil {
			t.Error("UpdateGame accepted an in_progress game without player2")
		}
	})
}

func TestGamesForPlayer(t *testing.T) {
	t.Parallel()

	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "alice")
		newGame(t, s, "g2", "bob")
		newGame(t, s, "g3", "carol")
		if _, err := s.UpdateGame(ctx, "g2", join("alice")); err != nil {
			t.Fatalf("join failed: %v", err)
		}

		ids, err := s.GamesForPlayer(ctx, "alice")
		if err != nil {
			t.Fatalf("GamesForPlayer failed: %v", err)
		}
		if fmt.Sprint(ids) != "[g1 g2]" {
			t.Errorf("GamesForPlayer(alice) = %v, want [g1 g2]", ids)
		}
		ids, _ = s.GamesForPlayer(ctx, "dave")
		if ids == nil || len(ids) != 0 {
			t.Errorf("GamesForPlayer(dave) = %#v, want empty slice", ids)
		}
	})
}

func TestGamesForPlayerPrefixIDs(t *testing.T) {
	t.Parallel()

	// ids where one is a byte prefix of the other, including a NUL
	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "a")
		newGame(t, s, "g2", "a\x00zz")
		newGame(t, s, "g3", "ab")

		tests := []struct {
			player string
			want   string
		}{
			{"a", "[g1]"},
			{"a\x00zz", "[g2]"},
			{"ab", "[g3]"},
		}
		for _, tt := range tests {
			ids, err := s.GamesForPlayer(ctx, tt.player)
			if err != nil {
				t.Fatalf("GamesForPlayer(%q) failed: %v", tt.player, err)
			}
			if fmt.Sprint(ids) != tt.want {
				t.Errorf("GamesForPlayer(%q) = %v, want %s", tt.player, ids, tt.want)
			}
		}
	})
}

func TestRounds(t *testing.T) {
	t.Parallel()

	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "alice")

		if err := s.InsertRound(ctx, game.NewRound("missing", 1, "", now)); !errors.Is(err, ErrNotFound) {
			t.Errorf("InsertRound for missing game err = %v, want ErrNotFound", err)
		}
		for _, n := range []int{2, 1, 3} {
			opt := ""
			if n > 1 {
				opt = fmt.Sprintf("opt%d", n)
			}
			if err := s.InsertRound(ctx, game.NewRound("g1", n, opt, now)); err != nil {
				t.Fatalf("InsertRound(%d) failed: %v", n, err)
			}
		}
		if err := s.InsertRound(ctx, game.NewRound("g1", 2, "", now)); !errors.Is(err, ErrDuplicate) {
			t.Errorf("duplicate InsertRound err = %v, want ErrDuplicate", err)
		}
		if _, err := s.GetRound(ctx, "g1", 9); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRound(9) err = %v, want ErrNotFound", err)
		}

		add := func(player, word string) RoundFunc {
			return func(r *game.Round) error { return r.AddGuess(player, word, now, constScorer{}) }
		}
		if _, err := s.UpdateRound(ctx, "g1", 2, add("alice", "cat")); err != nil {
			t.Fatalf("UpdateRound failed: %v", err)
		}
		cur, err := s.UpdateRound(ctx, "g1", 2, add("alice", "dog"))
		if !errors.Is(err, game.ErrWaitingForOpponent) {
			t.Fatalf("repeat guess err = %v, want ErrWaitingForOpponent", err)
		}
		if len(cur.Guesses) != 1 || cur.Guesses[0].Word != "cat" {
			t.Errorf("failed update returned %+v", cur.Guesses)
		}
		r, err := s.UpdateRound(ctx, "g1", 2, add("bob", "dog"))
		if err != nil {
			t.Fatalf("second guess failed: %v", err)
		}
		if r.Stage != game.StageScored || r.Results == nil {
			t.Fatalf("round after second guess = %+v", r)
		}

		list, err := s.ListRounds(ctx, "g1")
		if err != nil {
			t.Fatalf("ListRounds failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("ListRounds returned %d rounds, want 3", len(list))
		}
		for i, r := range list {
			if r.Number != i+1 {
				t.Errorf("ListRounds[%d].Number = %d", i, r.Number)
			}
		}
		got := list[1]
		if got.Optimal != "opt2" || got.Stage != game.StageScored || len(got.Guesses) != 2 {
			t.Errorf("round 2 = %+v", got)
		}
		if got.Results == nil || *got.Results.Similarity != 0.25 || got.Results.ToOptimal[0] != nil || *got.Results.ToOptimal[1] != 0.25 {
			t.Errorf("round 2 results = %+v", got.Results)
		}
		if got.EndedAt == nil || !got.EndedAt.Equal(now) || !got.Guesses[1].SubmittedAt.Equal(now) {
			t.Errorf("round 2 timestamps = %v, %v", got.EndedAt, got.Guesses[1].SubmittedAt)
		}
		if list[0].Optimal != "" || list[0].Results != nil || list[0].EndedAt != nil {
			t.Errorf("round 1 = %+v, want untouched", list[0])
		}

		empty, err := s.ListRounds(ctx, "nope")
		if err != nil || len(empty) != 0 {
			t.Errorf("ListRounds(nope) = %v, %v", empty, err)
		}
	})
}

func TestConcurrentJoin(t *testing.T) {
	t.Parallel()

	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "alice")

		var ok, conflict int32
		var eg errgroup.Group
		for i := 0; i < 8; i++ {
			player := fmt.Sprintf("p%d", i)
			eg.Go(func() error {
				_, err := s.UpdateGame(ctx, "g1", join(player))
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, game.ErrNotPending):
					atomic.AddInt32(&conflict, 1)
				default:
					return err
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatalf("join error: %v", err)
		}
		if ok != 1 || conflict != 7 {
			t.Errorf("joins: %d ok, %d conflicts; want 1 and 7", ok, conflict)
		}
	})
}

func TestConcurrentGuesses(t *testing.T) {
	t.Parallel()

	forEach(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		newGame(t, s, "g1", "alice")
		if err := s.InsertRound(ctx, game.NewRound("g1", 1, "", now)); err != nil {
			t.Fatalf("InsertRound failed: %v", err)
		}

		var eg errgroup.Group
		for _, p := range []string{"alice", "bob", "alice", "bob"} {
			p := p
			eg.Go(func() error {
				_, err := s.UpdateRound(ctx, "g1", 1, func(r *game.Round) error {
					return r.AddGuess(p, "w"+p, now, constScorer{})
				})
				if err != nil && game.KindOf(err) != game.KindConflict {
					return err
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatalf("guess error: %v", err)
		}
		r, err := s.GetRound(ctx, "g1", 1)
		if err != nil {
			t.Fatalf("GetRound failed: %v", err)
		}
		if len(r.Guesses) != 2 || r.Stage != game.StageScored || r.Guesses[0].Player == r.Guesses[1].Player {
			t.Errorf("round after race = %+v, want two distinct guesses, scored", r)
		}
	})
}
