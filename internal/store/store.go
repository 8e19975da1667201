// internal/store/store.go
//
// Persistence interface for games and rounds.
//
// Every mutation goes through a conditional update: the store hands the
// closure a copy of the currently stored document, the closure checks its
// precondition and mutates the copy, and the store commits the copy only if
// the closure returned nil and nothing else committed in between. Closures
// must be pure functions of their argument; a backend may run one more than
// once.
//
// Implementations: memory (this package), SQLite, bbolt.

package store

import (
	"context"
	"errors"

	"github.com/robalobadob/converge/internal/game"
)

var (
	// ErrNotFound is returned when a game or round does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned by inserts whose key already exists.
	ErrDuplicate = errors.New("store: duplicate key")

	// ErrContention is returned when a conditional update kept losing races.
	ErrContention = errors.New("store: too much contention")
)

// GameFunc checks a precondition and mutates g in place.
type GameFunc func(g *game.Game) error

// RoundFunc checks a precondition and mutates r in place.
type RoundFunc func(r *game.Round) error

// Store defines the persistence interface for games and rounds.
type Store interface {
	// InsertGame stores a new game. Returns ErrDuplicate if the id exists.
	InsertGame(ctx context.Context, g *game.Game) error

	// GetGame retrieves a game by id.
	GetGame(ctx context.Context, id string) (*game.Game, error)

	// UpdateGame applies fn to the stored game atomically. When fn fails,
	// nothing is written and the stored game is returned with fn's error.
	UpdateGame(ctx context.Context, id string, fn GameFunc) (*game.Game, error)

	// GamesForPlayer lists ids of games where player is player1 or player2,
	// oldest first.
	GamesForPlayer(ctx context.Context, player string) ([]string, error)

	// InsertRound stores a new round. Returns ErrDuplicate if
	// (GameID, Number) exists.
	InsertRound(ctx context.Context, r *game.Round) error

	// GetRound retrieves round n of a game.
	GetRound(ctx context.Context, gameID string, n int) (*game.Round, error)

	// UpdateRound is UpdateGame for rounds.
	UpdateRound(ctx context.Context, gameID string, n int, fn RoundFunc) (*game.Round, error)

	// ListRounds returns every round of a game ordered by number.
	ListRounds(ctx context.Context, gameID string) ([]*game.Round, error)

	Close() error
}
