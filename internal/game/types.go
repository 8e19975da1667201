// internal/game/types.go
//
// Core type definitions for converge games.
// Defines:
//   - Status: lifecycle of a Game (pending → in_progress → won/lost).
//   - Stage:  lifecycle of a Round (collecting → scored).
//   - Game, Round, Guess, Results: the persisted documents.

package game

import "time"

// Status is the lifecycle state of a Game.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusWon        Status = "won"
	StatusLost       Status = "lost"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusWon || s == StatusLost }

// Stage is the lifecycle state of a Round.
type Stage string

const (
	StageCollecting Stage = "collecting"
	StageScored     Stage = "scored"
)

// Game holds one two-player game.
//
// Player2 is empty until someone joins; CurrentRound is 0 until then.
type Game struct {
	ID           string    `json:"id"`
	Player1      string    `json:"player1"`
	Player2      string    `json:"player2,omitempty"`
	CurrentRound int       `json:"currentRound,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Guess is one player's word for a round.
type Guess struct {
	Player      string    `json:"player"`
	Word        string    `json:"word"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Results are the scores of a finished round. A nil pointer means the value
// could not be computed; ToOptimal[i] belongs to Guesses[i].
type Results struct {
	Similarity *float64   `json:"similarity"`
	ToOptimal  []*float64 `json:"toOptimal"`
}

// Round is one exchange of guesses, keyed by (GameID, Number).
//
// Optimal is the word nearest the centroid of the previous round's guesses;
// it is empty for round 1 or when none could be computed.
type Round struct {
	GameID    string     `json:"gameId"`
	Number    int        `json:"number"`
	Optimal   string     `json:"optimal,omitempty"`
	Stage     Stage      `json:"stage"`
	Guesses   []Guess    `json:"guesses"`
	Results   *Results   `json:"results,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Clone returns a copy that shares nothing mutable with g.
func (g *Game) Clone() *Game {
	c := *g
	return &c
}

// Clone returns a deep copy of r.
func (r *Round) Clone() *Round {
	c := *r
	c.Guesses = append([]Guess(nil), r.Guesses...)
	if r.Results != nil {
		res := *r.Results
		res.ToOptimal = append([]*float64(nil), r.Results.ToOptimal...)
		c.Results = &res
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
