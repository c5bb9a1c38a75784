// Package match scores a query embedding against stored reference
// embeddings and turns the result into a keep/discard decision.
//
// Everything here is pure. Functions hold no shared state and may be called
// concurrently on independent inputs.
package match

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/stableguard/stableguard/internal/models"
)

// ErrDimensionMismatch is returned by Cosine when the vectors differ in length.
// Match treats it as a skip.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const scorePrecision = 4

// Candidate is a stored identity considered for matching. ID is nil for
// identities known only by name.
type Candidate struct {
	ID        *int64
	Name      string
	Embedding []float32
}

// Result is the outcome of Match. Ranked is sorted by descending probability,
// ties keep candidate order.
type Result struct {
	BestID    *int64
	BestName  string
	BestScore float64
	Ranked    []models.HorseScore
}

// Matched reports whether any candidate was scorable.
func (r Result) Matched() bool {
	return len(r.Ranked) > 0
}

// Cosine returns dot(a,b)/(|a||b|). A zero-magnitude vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, nil
	}
	av, bv := widen(a), widen(b)
	na, nb := floats.Norm(av, 2), floats.Norm(bv, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(av, bv) / (na * nb), nil
}

// Match ranks candidates by cosine similarity to query. Candidates without an
// embedding or with a different dimension are left out.
func Match(query []float32, candidates []Candidate) Result {
	ranked := make([]models.HorseScore, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		score, err := Cosine(query, c.Embedding)
		if err != nil {
			continue
		}
		ranked = append(ranked, models.HorseScore{
			HorseID:     c.ID,
			HorseName:   c.Name,
			Probability: Round(score, scorePrecision),
		})
	}
	return finish(ranked)
}

// MatchNormalized ranks like Match but reports probabilities that sum to 1.
// Negative similarities count as zero. If every score is zero the mass is
// split evenly.
func MatchNormalized(query []float32, candidates []Candidate) Result {
	raw := Match(query, candidates)
	if len(raw.Ranked) == 0 {
		return raw
	}
	scores := make([]float64, len(raw.Ranked))
	for i, s := range raw.Ranked {
		scores[i] = s.Probability
	}
	probs := Normalize(scores)
	for i := range raw.Ranked {
		raw.Ranked[i].Probability = probs[i]
	}
	return finish(raw.Ranked)
}

// Normalize clamps scores at zero and divides each by their sum, rounded to
// three places. Order is preserved.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	clamped := make([]float64, len(scores))
	for i, s := range scores {
		clamped[i] = math.Max(s, 0)
	}
	total := floats.Sum(clamped)
	if total <= 0 {
		even := Round(1/float64(len(scores)), 3)
		for i := range out {
			out[i] = even
		}
		return out
	}
	for i, s := range clamped {
		out[i] = Round(s/total, 3)
	}
	return out
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func finish(ranked []models.HorseScore) Result {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	if len(ranked) == 0 {
		return Result{Ranked: []models.HorseScore{}}
	}
	return Result{
		BestID:    ranked[0].HorseID,
		BestName:  ranked[0].HorseName,
		BestScore: ranked[0].Probability,
		Ranked:    ranked,
	}
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
