package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/robalobadob/converge/internal/game"
)

var (
	bucketGames   = []byte("games")
	bucketSeq     = []byte("game_seq")
	bucketPlayers = []byte("players")
	bucketRounds  = []byte("rounds")
)

// Bolt is a Store backed by a bbolt file. bbolt runs one writer at a time,
// so a conditional update is a plain read-check-write inside db.Update.
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens (and creates if missing) the bbolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketGames, bucketSeq, bucketPlayers, bucketRounds} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("bolt store opened")
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error { return s.db.Close() }

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// idPrefix is len(id) then id. The length keeps one id from being a prefix
// of another, whatever bytes the ids hold.
func idPrefix(id string) []byte {
	k := make([]byte, 0, 8+len(id)+8)
	k = append(k, u64(uint64(len(id)))...)
	return append(k, id...)
}

// playerKey is idPrefix(player) then seq, so a prefix scan yields a player's
// games in creation order.
func playerKey(player string, seq []byte) []byte {
	return append(idPrefix(player), seq...)
}

func roundKey(gameID string, n int) []byte {
	return append(idPrefix(gameID), u64(uint64(n))...)
}

func loadGame(tx *bolt.Tx, id string) (*game.Game, error) {
	v := tx.Bucket(bucketGames).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	var g game.Game
	if err := json.Unmarshal(v, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game %s: %w", id, err)
	}
	return &g, nil
}

func putGame(tx *bolt.Tx, g *game.Game) error {
	b, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}
	return tx.Bucket(bucketGames).Put([]byte(g.ID), b)
}

func (s *Bolt) InsertGame(ctx context.Context, g *game.Game) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		games := tx.Bucket(bucketGames)
		if games.Get([]byte(g.ID)) != nil {
			return fmt.Errorf("game %s: %w", g.ID, ErrDuplicate)
		}
		n, err := games.NextSequence()
		if err != nil {
			return err
		}
		seq := u64(n)
		if err := tx.Bucket(bucketSeq).Put([]byte(g.ID), seq); err != nil {
			return err
		}
		players := tx.Bucket(bucketPlayers)
		for _, p := range []string{g.Player1, g.Player2} {
			if p == "" {
				continue
			}
			if err := players.Put(playerKey(p, seq), []byte(g.ID)); err != nil {
				return err
			}
		}
		return putGame(tx, g)
	})
}

func (s *Bolt) GetGame(ctx context.Context, id string) (*game.Game, error) {
	var g *game.Game
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		g, err = loadGame(tx, id)
		return err
	})
	return g, err
}

func (s *Bolt) UpdateGame(ctx context.Context, id string, fn GameFunc) (*game.Game, error) {
	var cur, next *game.Game
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		if cur, err = loadGame(tx, id); err != nil {
			return err
		}
		next = cur.Clone()
		if fnErr = fn(next); fnErr != nil {
			return fnErr
		}
		if fnErr = next.Validate(); fnErr != nil {
			return fnErr
		}
		if cur.Player2 == "" && next.Player2 != "" {
			seq := tx.Bucket(bucketSeq).Get([]byte(id))
			if err := tx.Bucket(bucketPlayers).Put(playerKey(next.Player2, seq), []byte(id)); err != nil {
				return err
			}
		}
		return putGame(tx, next)
	})
	if fnErr != nil {
		return cur, fnErr
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Bolt) GamesForPlayer(ctx context.Context, player string) ([]string, error) {
	out := []string{}
	prefix := idPrefix(player)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPlayers).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, string(v))
		}
		return nil
	})
	return out, err
}

func loadRound(tx *bolt.Tx, gameID string, n int) (*game.Round, error) {
	v := tx.Bucket(bucketRounds).Get(roundKey(gameID, n))
	if v == nil {
		return nil, fmt.Errorf("round %s/%d: %w", gameID, n, ErrNotFound)
	}
	var r game.Round
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("unmarshal round %s/%d: %w", gameID, n, err)
	}
	return &r, nil
}

func putRound(tx *bolt.Tx, r *game.Round) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	return tx.Bucket(bucketRounds).Put(roundKey(r.GameID, r.Number), b)
}

func (s *Bolt) InsertRound(ctx context.Context, r *game.Round) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketGames).Get([]byte(r.GameID)) == nil {
			return fmt.Errorf("game %s: %w", r.GameID, ErrNotFound)
		}
		if tx.Bucket(bucketRounds).Get(roundKey(r.GameID, r.Number)) != nil {
			return fmt.Errorf("round %s/%d: %w", r.GameID, r.Number, ErrDuplicate)
		}
		return putRound(tx, r)
	})
}

func (s *Bolt) GetRound(ctx context.Context, gameID string, n int) (*game.Round, error) {
	var r *game.Round
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = loadRound(tx, gameID, n)
		return err
	})
	return r, err
}

func (s *Bolt) UpdateRound(ctx context.Context, gameID string, n int, fn RoundFunc) (*game.Round, error) {
	var cur, next *game.Round
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		if cur, err = loadRound(tx, gameID, n); err != nil {
			return err
		}
		next = cur.Clone()
		if fnErr = fn(next); fnErr != nil {
			return fnErr
		}
		return putRound(tx, next)
	})
	if fnErr != nil {
		return cur, fnErr
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Bolt) ListRounds(ctx context.Context, gameID string) ([]*game.Round, error) {
	out := []*game.Round{}
	prefix := idPrefix(gameID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRounds).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r game.Round
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal round %q: %w", k, err)
			}
			out = append(out, &r)
		}
		return nil
	})
	return out, err
}
