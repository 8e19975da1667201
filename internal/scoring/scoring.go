// internal/scoring/scoring.go
//
// Round scoring on top of the embedding table.
// Responsibilities:
//   - Find the optimal word for the next round: the vocabulary word nearest the
//     centroid of the previous round's two guesses, excluding both guesses.
//   - Score a finished round: each guess against the optimal word, and the two
//     guesses against each other.
//
// Notes:
//   - Optimal words are cached in an ARC cache keyed by the unordered pair of
//     guesses; the centroid and the exclusion set do not depend on order.
//   - Missing values are nil rather than errors; round 1 never has an optimal word.

package scoring

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/converge/internal/embedding"
	"github.com/robalobadob/converge/internal/game"
)

// Engine scores rounds. It is safe for concurrent use.
type Engine struct {
	vocab *embedding.Store
	cache *lru.ARCCache
	log   zerolog.Logger
}

var _ game.Scorer = (*Engine)(nil)

// New returns an Engine over vocab with an optimal-word cache of cacheSize
// entries.
func New(vocab *embedding.Store, cacheSize int) (*Engine, error) {
	if vocab == nil {
		return nil, fmt.Errorf("scoring: vocabulary is nil")
	}
	c, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("scoring: new arc cache: %w", err)
	}
	return &Engine{
		vocab: vocab,
		cache: c,
		log:   log.With().Str("component", "scoring").Logger(),
	}, nil
}

type pairKey struct{ a, b string }

func keyOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// OptimalForNextRound returns the optimal word derived from a finished
// round's guesses. It reports false unless there are exactly two guesses
// whose words have vectors and a nearest word exists.
func (e *Engine) OptimalForNextRound(prev []game.Guess) (string, bool) {
	if len(prev) != 2 {
		return "", false
	}
	w1, w2 := prev[0].Word, prev[1].Word

	key := keyOf(w1, w2)
	if v, ok := e.cache.Get(key); ok {
		w := v.(string)
		return w, w != ""
	}

	v1, ok1 := e.vocab.Vector(w1)
	v2, ok2 := e.vocab.Vector(w2)
	if !ok1 || !ok2 {
		e.log.Warn().Str("word1", w1).Str("word2", w2).Msg("guess without vector; no optimal word")
		return "", false
	}
	c, err := embedding.Centroid(v1, v2)
	if err != nil {
		e.log.Warn().Err(err).Msg("centroid")
		return "", false
	}
	n, ok := e.vocab.Nearest(c, w1, w2)
	if !ok {
		e.cache.Add(key, "")
		return "", false
	}
	e.cache.Add(key, n.Word)
	return n.Word, true
}

// ScoreRound implements game.Scorer.
func (e *Engine) ScoreRound(word1, word2, optimal string) game.Results {
	res := game.Results{ToOptimal: make([]*float64, 2)}
	res.Similarity = e.similarity(word1, word2)
	if optimal != "" {
		res.ToOptimal[0] = e.similarity(word1, optimal)
		res.ToOptimal[1] = e.similarity(word2, optimal)
	}
	return res
}

func (e *Engine) similarity(a, b string) *float64 {
	s, ok := e.vocab.Similarity(a, b)
	if !ok {
		// Moves are validated against the vocabulary, so this is an inconsistency.
		e.log.Warn().Str("word1", a).Str("word2", b).Msg("data integrity: similarity unavailable")
		return nil
	}
	return &s
}
