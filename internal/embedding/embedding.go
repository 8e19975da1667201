// internal/embedding/embedding.go
//
// Word-embedding table for the game.
//
// Responsibilities:
//   - Load a whitespace-delimited "word f1 f2 … fN" table (GloVe layout) once at startup.
//   - Keep only plausible English words: ≥3 ASCII letters, lowercased.
//   - Answer membership, vector lookup, cosine similarity and nearest-word queries.
//
// Notes:
//   • A Store is immutable after Load and is shared by pointer across goroutines
//     without locking.
//   • Iteration order is load order; Nearest relies on it for stable tie-breaks.

package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const minWordLen = 3

// ErrEmptyVocabulary is returned when a source yields no usable entries.
var ErrEmptyVocabulary = errors.New("embedding: vocabulary is empty")

// Store is the loaded vocabulary.
type Store struct {
	words   []string
	vectors [][]float32
	norms   []float64
	index   map[string]int
	dim     int
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses an embedding table.
//
// The first accepted line fixes the vector dimension. Lines with another
// dimension or an unparsable component are skipped and counted, as are
// filtered tokens. Duplicate words keep their first vector.
func Load(r io.Reader) (*Store, error) {
	s := &Store{index: make(map[string]int)}

	sc := bufio.NewScanner(r)
	// GloVe lines at 300d run past bufio's 64KiB default.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var filtered, malformed int
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		word := strings.ToLower(fields[0])
		if !isWord(word) {
			filtered++
			continue
		}
		if _, dup := s.index[word]; dup {
			continue
		}
		vec, err := parseVector(fields[1:])
		if err != nil {
			malformed++
			continue
		}
		if s.dim == 0 {
			s.dim = len(vec)
		} else if len(vec) != s.dim {
			malformed++
			continue
		}
		s.index[word] = len(s.words)
		s.words = append(s.words, word)
		s.vectors = append(s.vectors, vec)
		s.norms = append(s.norms, norm(vec))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read: %w", err)
	}
	if len(s.words) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if malformed > 0 {
		log.Warn().Int("lines", malformed).Msg("embedding: skipped malformed lines")
	}
	log.Debug().Int("words", len(s.words)).Int("dim", s.dim).Int("filtered", filtered).Msg("embedding: loaded")
	return s, nil
}

func parseVector(fields []string) ([]float32, error) {
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite component %q", f)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// isWord reports whether w is at least minWordLen lowercase ASCII letters.
func isWord(w string) bool {
	if len(w) < minWordLen {
		return false
	}
	for i := 0; i < len(w); i++ {
		if w[i] < 'a' || w[i] > 'z' {
			return false
		}
	}
	return true
}

// Contains reports whether word is in the vocabulary. This is the only
// validity rule for a player's move.
func (s *Store) Contains(word string) bool {
	_, ok := s.index[word]
	return ok
}

// Vector returns the vector for word. The slice is shared; callers must not
// modify it.
func (s *Store) Vector(word string) ([]float32, bool) {
	i, ok := s.index[word]
	if !ok {
		return nil, false
	}
	return s.vectors[i], true
}

// Similarity is the cosine similarity of two vocabulary words.
func (s *Store) Similarity(a, b string) (float64, bool) {
	va, ok := s.Vector(a)
	if !ok {
		return 0, false
	}
	vb, ok := s.Vector(b)
	if !ok {
		return 0, false
	}
	sim, err := CosineSimilarity(va, vb)
	if err != nil {
		return 0, false
	}
	return sim, true
}

// Len is the number of loaded words.
func (s *Store) Len() int { return len(s.words) }

// Dim is the vector dimension.
func (s *Store) Dim() int { return s.dim }

// Words returns the vocabulary in load order.
func (s *Store) Words() []string {
	return append([]string(nil), s.words...)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 { return math.Sqrt(dot(v, v)) }
