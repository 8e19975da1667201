// internal/match/service.go
//
// Game operations over a Store.
// Responsibilities:
//   - Validate and normalise caller input (player ids, words).
//   - Drive every transition through a store conditional update whose closure
//     re-checks the precondition against the stored document.
//   - Create each round once, with its optimal word, on the first move into it.
//   - Map store failures onto the game error taxonomy.
//
// Notes:
//   - Nothing here retries a whole operation. A retried call against state that
//     already moved on reports the conflict instead of applying twice.
//   - A round found scored while the game still points at it is settled before
//     the move is applied, which repairs a settle lost to a store failure.

package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/robalobadob/converge/internal/embedding"
	"github.com/robalobadob/converge/internal/game"
	"github.com/robalobadob/converge/internal/scoring"
	"github.com/robalobadob/converge/internal/store"
)

// MoveResult is the outcome of SubmitMove. Stage is StageCollecting after the
// first guess of a round and StageScored after the second; Game is the game
// as it stands after the move.
type MoveResult struct {
	Stage game.Stage  `json:"stage"`
	Game  *game.Game  `json:"game"`
	Round *game.Round `json:"round"`
}

// GameView is a game with all of its rounds, oldest first.
type GameView struct {
	Game   *game.Game    `json:"game"`
	Rounds []*game.Round `json:"rounds"`
}

// Service runs games. It is safe for concurrent use.
type Service struct {
	store  store.Store
	vocab  *embedding.Store
	scorer *scoring.Engine
	log    zerolog.Logger

	// optimal de-duplicates the nearest-word scan when both players open a
	// round at the same time.
	optimal singleflight.Group

	now   func() time.Time
	newID func() string
}

// New returns a Service. logger is tagged with component=match.
func New(st store.Store, vocab *embedding.Store, sc *scoring.Engine, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		vocab:  vocab,
		scorer: sc,
		log:    logger.With().Str("component", "match").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// storeErr maps a store error. Errors that already carry a Kind (closure
// preconditions) pass through; a missing document becomes notFound; anything
// else is transient.
func storeErr(err, notFound error) error {
	if err == nil {
		return nil
	}
	if game.KindOf(err) != game.KindInternal {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return game.Transient(err)
}

// NormalizeWord trims and lowercases a submitted word.
func NormalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// CreateGame starts a pending game owned by player1.
func (s *Service) CreateGame(ctx context.Context, player1 string) (*game.Game, error) {
	g, err := game.NewGame(s.newID(), strings.TrimSpace(player1), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertGame(ctx, g); err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	s.log.Info().Str("game", g.ID).Str("player1", g.Player1).Msg("game created")
	return g, nil
}

// JoinGame seats player2. Of several concurrent joins exactly one succeeds;
// the others get ErrNotPending.
func (s *Service) JoinGame(ctx context.Context, gameID, player2 string) (*game.Game, error) {
	if gameID == "" {
		return nil, game.ErrMissingGameID
	}
	player2 = strings.TrimSpace(player2)
	if player2 == "" {
		return nil, game.ErrMissingPlayer
	}
	now := s.now()
	g, err := s.store.UpdateGame(ctx, gameID, func(g *game.Game) error {
		return g.Join(player2, now)
	})
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	s.log.Info().Str("game", g.ID).Str("player2", g.Player2).Msg("game joined")
	return g, nil
}

// QuitGame ends a non-terminal game as lost.
func (s *Service) QuitGame(ctx context.Context, gameID, player string) (*game.Game, error) {
	if gameID == "" {
		return nil, game.ErrMissingGameID
	}
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, game.ErrMissingPlayer
	}
	now := s.now()
	g, err := s.store.UpdateGame(ctx, gameID, func(g *game.Game) error {
		return g.Quit(player, now)
	})
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	s.log.Info().Str("game", g.ID).Str("player", player).Int("round", g.CurrentRound).Msg("game quit")
	return g, nil
}

// GetGame returns the game and its rounds.
func (s *Service) GetGame(ctx context.Context, gameID string) (*GameView, error) {
	if gameID == "" {
		return nil, game.ErrMissingGameID
	}
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	rounds, err := s.store.ListRounds(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	return &GameView{Game: g, Rounds: rounds}, nil
}

// GamesForPlayer lists the ids of every game player takes part in.
func (s *Service) GamesForPlayer(ctx context.Context, player string) ([]string, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, game.ErrMissingPlayer
	}
	ids, err := s.store.GamesForPlayer(ctx, player)
	if err != nil {
		return nil, game.Transient(err)
	}
	return ids, nil
}

// SubmitMove records player's word for the game's current round. The second
// word of a round scores it and either wins the game (identical words) or
// advances it to the next round.
func (s *Service) SubmitMove(ctx context.Context, gameID, player, word string) (*MoveResult, error) {
	if gameID == "" {
		return nil, game.ErrMissingGameID
	}
	player = strings.TrimSpace(player)
	if player == "" {
		return nil, game.ErrMissingPlayer
	}
	word = NormalizeWord(word)
	if word == "" {
		return nil, game.ErrMissingWord
	}
	if !s.vocab.Contains(word) {
		return nil, fmt.Errorf("%w: %q", game.ErrInvalidWord, word)
	}

	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}

	// At most one stale scored round can sit under CurrentRound, so the
	// second pass always finds an open round or a finished game.
	for attempt := 0; attempt < 2; attempt++ {
		if err := g.CanMove(player); err != nil {
			return nil, err
		}
		r, err := s.openRound(ctx, g.ID, g.CurrentRound)
		if err != nil {
			return nil, err
		}
		if r.Stage == game.StageScored {
			if g, err = s.settle(ctx, r); err != nil {
				return nil, err
			}
			continue
		}
		return s.guess(ctx, g, player, word)
	}
	return nil, game.ErrRoundClosed
}

// guess appends the word to g's current round and settles the game when the
// append scored the round.
func (s *Service) guess(ctx context.Context, g *game.Game, player, word string) (*MoveResult, error) {
	now := s.now()
	r, err := s.store.UpdateRound(ctx, g.ID, g.CurrentRound, func(r *game.Round) error {
		return r.AddGuess(player, word, now, s.scorer)
	})
	if err != nil {
		return nil, storeErr(err, game.ErrRoundNotFound)
	}
	if r.Stage == game.StageCollecting {
		s.log.Debug().Str("game", g.ID).Int("round", r.Number).Str("player", player).Msg("guess recorded")
		return &MoveResult{Stage: game.StageCollecting, Game: g, Round: r}, nil
	}

	ev := s.log.Info().Str("game", g.ID).Int("round", r.Number).
		Str("word1", r.Guesses[0].Word).Str("word2", r.Guesses[1].Word)
	if r.Results != nil && r.Results.Similarity != nil {
		ev = ev.Float64("similarity", *r.Results.Similarity)
	}
	ev.Msg("round scored")

	g, err = s.settle(ctx, r)
	if err != nil {
		return nil, err
	}
	return &MoveResult{Stage: game.StageScored, Game: g, Round: r}, nil
}

// settle applies a scored round to its game. A game already past the round
// is returned unchanged.
func (s *Service) settle(ctx context.Context, r *game.Round) (*game.Game, error) {
	now := s.now()
	g, err := s.store.UpdateGame(ctx, r.GameID, func(g *game.Game) error {
		return g.Settle(r, now)
	})
	if errors.Is(err, game.ErrAlreadyApplied) {
		return g, nil
	}
	if err != nil {
		return nil, storeErr(err, game.ErrGameNotFound)
	}
	if g.Status == game.StatusWon {
		s.log.Info().Str("game", g.ID).Int("round", r.Number).Str("word", r.Guesses[0].Word).Msg("game won")
	}
	return g, nil
}

// openRound returns round n, creating it if this is the first move into it.
// Insert uniqueness makes the first creator win; later callers read its round.
func (s *Service) openRound(ctx context.Context, gameID string, n int) (*game.Round, error) {
	r, err := s.store.GetRound(ctx, gameID, n)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, game.Transient(err)
	}

	optimal, err := s.optimalFor(ctx, gameID, n)
	if err != nil {
		return nil, err
	}
	r = game.NewRound(gameID, n, optimal, s.now())
	switch err := s.store.InsertRound(ctx, r); {
	case err == nil:
		s.log.Debug().Str("game", gameID).Int("round", n).Str("optimal", optimal).Msg("round opened")
		return r, nil
	case errors.Is(err, store.ErrDuplicate):
		r, err = s.store.GetRound(ctx, gameID, n)
		return r, storeErr(err, game.ErrRoundNotFound)
	default:
		return nil, storeErr(err, game.ErrGameNotFound)
	}
}

// optimalFor computes round n's optimal word from round n-1's guesses. Round
// 1 has none.
func (s *Service) optimalFor(ctx context.Context, gameID string, n int) (string, error) {
	if n <= 1 {
		return "", nil
	}
	key := fmt.Sprintf("%s/%d", gameID, n)
	// Callers share the result, so one caller's cancellation must not fail the rest.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.optimal.Do(key, func() (interface{}, error) {
		prev, err := s.store.GetRound(shared, gameID, n-1)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Str("game", gameID).Int("round", n-1).Msg("previous round missing; no optimal word")
			return "", nil
		}
		if err != nil {
			return "", game.Transient(err)
		}
		w, _ := s.scorer.OptimalForNextRound(prev.Guesses)
		return w, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
