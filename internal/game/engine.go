// internal/game/engine.go
//
// Pure state transitions for games and rounds.
// Responsibilities:
//   - Create games and rounds.
//   - Check each transition's precondition against the current document and
//     either mutate it or return a classified error, leaving it untouched.
//
// Notes:
//   - Nothing here touches storage. Stores call these inside their conditional
//     update closures, so every check runs against the freshest stored state.
//   - State transitions:
//       Game:  pending → in_progress (Join) → won (Settle on converged round)
//              pending | in_progress → lost (Quit)
//       Round: collecting → scored (second AddGuess)

package game

import (
	"fmt"
	"time"
)

// Scorer computes the results of a round once both guesses are in.
type Scorer interface {
	ScoreRound(word1, word2, optimal string) Results
}

// Converged is the win condition: the two words are the same string.
func Converged(word1, word2 string) bool { return word1 == word2 }

// NewGame returns a pending game owned by player1.
func NewGame(id, player1 string, now time.Time) (*Game, error) {
	if player1 == "" {
		return nil, ErrMissingPlayer
	}
	return &Game{
		ID:        id,
		Player1:   player1,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasPlayer reports whether player is one of the game's registered players.
func (g *Game) HasPlayer(player string) bool {
	return player != "" && (player == g.Player1 || player == g.Player2)
}

// Join seats player2 and starts round 1.
func (g *Game) Join(player2 string, now time.Time) error {
	if player2 == "" {
		return ErrMissingPlayer
	}
	if g.Status != StatusPending {
		return ErrNotPending
	}
	if player2 == g.Player1 {
		return ErrOwnGame
	}
	g.Player2 = player2
	g.Status = StatusInProgress
	g.CurrentRound = 1
	g.UpdatedAt = now
	return nil
}

// CanMove checks that player may submit a word right now.
func (g *Game) CanMove(player string) error {
	if g.Status != StatusInProgress {
		return ErrNotInProgress
	}
	if !g.HasPlayer(player) {
		return ErrInvalidPlayer
	}
	return nil
}

// Quit ends the game as lost. A pending game can only be quit by its creator,
// which the participant check already guarantees since Player2 is empty.
func (g *Game) Quit(player string, now time.Time) error {
	if g.Status.Terminal() {
		return ErrGameOver
	}
	if !g.HasPlayer(player) {
		return ErrInvalidPlayer
	}
	g.Status = StatusLost
	g.UpdatedAt = now
	return nil
}

// Settle applies a scored round to the game: a converged round wins the
// game, any other advances it by exactly one round. It returns
// ErrAlreadyApplied when the game has moved past r.
func (g *Game) Settle(r *Round, now time.Time) error {
	if g.Status != StatusInProgress || g.CurrentRound != r.Number {
		return ErrAlreadyApplied
	}
	if r.Stage != StageScored || len(r.Guesses) != 2 {
		return ErrRoundOpen
	}
	if Converged(r.Guesses[0].Word, r.Guesses[1].Word) {
		g.Status = StatusWon
	} else {
		g.CurrentRound++
	}
	g.UpdatedAt = now
	return nil
}

// Validate checks the stored-document invariants. Stores refuse to write a
// game that fails it.
func (g *Game) Validate() error {
	if g.ID == "" || g.Player1 == "" {
		return fmt.Errorf("game: id and player1 are required")
	}
	seated := g.Player2 != "" && g.CurrentRound >= 1
	empty := g.Player2 == "" && g.CurrentRound == 0
	switch g.Status {
	case StatusPending:
		if !empty {
			return fmt.Errorf("game %s: pending game has player2 or round", g.ID)
		}
	case StatusInProgress, StatusWon:
		if !seated {
			return fmt.Errorf("game %s: %s game without player2 and round", g.ID, g.Status)
		}
	case StatusLost:
		// lost is reachable from pending, so both shapes are valid.
		if !seated && !empty {
			return fmt.Errorf("game %s: lost game half seated", g.ID)
		}
	default:
		return fmt.Errorf("game %s: unknown status %q", g.ID, g.Status)
	}
	return nil
}

// NewRound opens round n of a game.
func NewRound(gameID string, n int, optimal string, now time.Time) *Round {
	return &Round{
		GameID:    gameID,
		Number:    n,
		Optimal:   optimal,
		Stage:     StageCollecting,
		Guesses:   []Guess{},
		StartedAt: now,
	}
}

// HasGuessFrom reports whether player already guessed in r.
func (r *Round) HasGuessFrom(player string) bool {
	for _, g := range r.Guesses {
		if g.Player == player {
			return true
		}
	}
	return false
}

// AddGuess records player's word. The second guess closes the round: it is
// scored with sc and moves to StageScored.
//
// A player who already guessed gets ErrWaitingForOpponent; the earlier guess
// is never overwritten.
func (r *Round) AddGuess(player, word string, now time.Time, sc Scorer) error {
	if r.Stage != StageCollecting || len(r.Guesses) >= 2 {
		return ErrRoundClosed
	}
	if r.HasGuessFrom(player) {
		return ErrWaitingForOpponent
	}
	r.Guesses = append(r.Guesses, Guess{Player: player, Word: word, SubmittedAt: now})
	if len(r.Guesses) < 2 {
		return nil
	}

	res := sc.ScoreRound(r.Guesses[0].Word, r.Guesses[1].Word, r.Optimal)
	r.Results = &res
	r.Stage = StageScored
	r.EndedAt = &now
	return nil
}
