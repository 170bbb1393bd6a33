package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

// MatchWeights are the (α, β, γ) coefficients in spec.md §4.4's re-ranking
// formula s = α·similarity + β·success_rate + γ·log(1+usage_count).
type MatchWeights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultMatchWeights mirrors the spec's default (1.0, 0.4, 0.1).
var DefaultMatchWeights = MatchWeights{Alpha: 1.0, Beta: 0.4, Gamma: 0.1}

// Match is one ranked result of the problem-solution matcher.
type Match struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	AISolutions string  `json:"ai_solutions"`
	Score       float64 `json:"score"`
	SuccessRate float64 `json:"success_rate"`
}

// MatchService implements the troubleshoot problem-solution matcher (C5).
type MatchService struct {
	store   *vectorstore.Store
	trouble *TroubleshootStore
	weights MatchWeights
	log     *slog.Logger
}

// NewMatchService builds a matcher over store/trouble with the given
// re-ranking weights (pass DefaultMatchWeights for spec defaults).
func NewMatchService(store *vectorstore.Store, trouble *TroubleshootStore, weights MatchWeights, log *slog.Logger) *MatchService {
	if log == nil {
		log = slog.Default()
	}
	if weights == (MatchWeights{}) {
		weights = DefaultMatchWeights
	}
	return &MatchService{store: store, trouble: trouble, weights: weights, log: log.With("component", "memory.match")}
}

// clamp01 mirrors internal/learner/recommendations.go's clamp01, bounding a
// derived score to [0,1] before it participates in a weighted sum.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Match finds the top N troubleshoot entries for problem description
// problem, re-ranked by spec.md §4.4's weighted formula (candidateK default
// 10, topN default 3).
func (m *MatchService) Match(ctx context.Context, namespace, problem string, candidateK, topN int) ([]Match, error) {
	if candidateK <= 0 {
		candidateK = 10
	}
	if topN <= 0 {
		topN = 3
	}

	queryVec := m.store.Embedder().Embed(problem)
	candidates, err := m.store.HybridTopK(ctx, nil, TroubleKind, namespace, queryVec, problem, candidateK, nil)
	if err != nil {
		return nil, err
	}

	var maxScore float64
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	results := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		item, err := decodeTrouble(c.Record)
		if err != nil {
			return nil, err
		}
		similarity := c.Score
		if maxScore > 0 {
			similarity = clamp01(c.Score / maxScore)
		}
		s := m.weights.Alpha*similarity +
			m.weights.Beta*item.SuccessRate() +
			m.weights.Gamma*math.Log1p(float64(item.UsageCount))
		results = append(results, Match{
			Slug:        item.Slug,
			Title:       item.Title,
			AISolutions: item.AISolutions,
			Score:       s,
			SuccessRate: item.SuccessRate(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Slug < results[j].Slug
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
