// internal/store/memory.go
//
// In-memory implementation of Store.
// Used for development, tests, and deployments where durability is not required.
//
// Characteristics:
//   - Games keyed by id, rounds kept per game in number order.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//     Conditional updates run their closure under the write lock, on a clone.
//   - Every read and write copies documents, so callers never alias stored state.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robalobadob/converge/internal/game"
)

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu     sync.RWMutex
	games  map[string]*game.Game
	order  []string                 // game ids in insertion order
	rounds map[string][]*game.Round // keyed by game id, sorted by number
}

// NewMemory constructs a new in-memory Store.
func NewMemory() Store {
	return &memory{
		games:  make(map[string]*game.Game),
		rounds: make(map[string][]*game.Round),
	}
}

func (m *memory) InsertGame(ctx context.Context, g *game.Game) error {
	if err := g.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.ID]; ok {
		return fmt.Errorf("game %s: %w", g.ID, ErrDuplicate)
	}
	m.games[g.ID] = g.Clone()
	m.order = append(m.order, g.ID)
	return nil
}

func (m *memory) GetGame(ctx context.Context, id string) (*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.games[id]; ok {
		return g.Clone(), nil
	}
	return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
}

func (m *memory) UpdateGame(ctx context.Context, id string, fn GameFunc) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	if err := next.Validate(); err != nil {
		return cur.Clone(), err
	}
	m.games[id] = next
	return next.Clone(), nil
}

func (m *memory) GamesForPlayer(ctx context.Context, player string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for _, id := range m.order {
		if g := m.games[id]; g.Player1 == player || g.Player2 == player {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memory) InsertRound(ctx context.Context, r *game.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[r.GameID]; !ok {
		return fmt.Errorf("game %s: %w", r.GameID, ErrNotFound)
	}
	list := m.rounds[r.GameID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Number >= r.Number })
	if i < len(list) && list[i].Number == r.Number {
		return fmt.Errorf("round %s/%d: %w", r.GameID, r.Number, ErrDuplicate)
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = r.Clone()
	m.rounds[r.GameID] = list
	return nil
}

// find returns the index of round n in the game's list, or -1.
func (m *memory) find(gameID string, n int) int {
	list := m.rounds[gameID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Number >= n })
	if i < len(list) && list[i].Number == n {
		return i
	}
	return -1
}

func (m *memory) GetRound(ctx context.Context, gameID string, n int) (*game.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.find(gameID, n)
	if i < 0 {
		return nil, fmt.Errorf("round %s/%d: %w", gameID, n, ErrNotFound)
	}
	return m.rounds[gameID][i].Clone(), nil
}

func (m *memory) UpdateRound(ctx context.Context, gameID string, n int, fn RoundFunc) (*game.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(gameID, n)
	if i < 0 {
		return nil, fmt.Errorf("round %s/%d: %w", gameID, n, ErrNotFound)
	}
	cur := m.rounds[gameID][i]
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	m.rounds[gameID][i] = next
	return next.Clone(), nil
}

func (m *memory) ListRounds(ctx context.Context, gameID string) ([]*game.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.rounds[gameID]
	out := make([]*game.Round, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *memory) Close() error { return nil }
