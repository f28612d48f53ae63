// Package matcher retrieves candidate techniques for an analyzed query and
// computes the composite score that drives pipeline composition.
package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/viterin/vek/vek32"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/signals"
)

// Scoring weights. Boosts only ever add, penalties only ever subtract; both
// sides are capped before the final clamp.
const (
	commandBoost        = 0.3
	keywordBoost        = 0.1
	intentBoost         = 0.2
	boostCap            = 0.5
	difficultyPenalty   = 0.3
	formatPenalty       = 0.1
	concisePenalty      = 0.2
	penaltyCap          = 0.5
	conciseTokenCeiling = 300
)

// Constraints bounds one retrieval pass
type Constraints struct {
	MaxCandidates       int
	SimilarityThreshold float64
}

// DefaultConstraints mirrors the engine's stock configuration
func DefaultConstraints() Constraints {
	return Constraints{MaxCandidates: 15, SimilarityThreshold: 0.7}
}

// TechniqueScore binds a technique id to its scoring breakdown for one
// request. It exists only while a pipeline is being composed.
type TechniqueScore struct {
	TechniqueID     string  `json:"technique_id"`
	Similarity      float64 `json:"similarity"`
	SignalBoost     float64 `json:"signal_boost"`
	Penalty         float64 `json:"penalty"`
	ComplementBoost float64 `json:"complement_boost"`
	FinalScore      float64 `json:"final_score"`
	Rationale       string  `json:"rationale"`
}

// Clamp bounds v into [0,1]
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Retrieve ranks compendium techniques against the analysis and returns the
// eligible candidates, best first. The similarity threshold is applied to the
// boosted-and-penalized final score, not to raw similarity: an explicit
// /command can rescue a technique whose description similarity alone would
// miss the cut. An empty result is not an error; the composer decides how to
// surface it.
func Retrieve(analysis *signals.QueryAnalysis, store *compendium.Store, constraints Constraints) []TechniqueScore {
	if constraints.MaxCandidates <= 0 {
		constraints.MaxCandidates = 15
	}

	queryTokens := tokenSet(analysis.Tokens())

	var scored []TechniqueScore
	for _, id := range store.IDs() {
		technique, ok := store.Get(id)
		if !ok {
			continue
		}
		vec, ok := store.Embedding(id)
		if !ok || len(vec) == 0 || len(vec) != len(analysis.Embedding) {
			continue
		}

		similarity := cosine(analysis.Embedding, vec)
		boost, boostWhy := signalBoost(analysis, &technique, queryTokens)
		penalty, penaltyWhy := signalPenalty(analysis, &technique)
		final := Clamp(similarity + boost - penalty)

		if final <= constraints.SimilarityThreshold {
			continue
		}

		scored = append(scored, TechniqueScore{
			TechniqueID: technique.ID,
			Similarity:  similarity,
			SignalBoost: boost,
			Penalty:     penalty,
			FinalScore:  final,
			Rationale:   rationale(technique.Name, similarity, boostWhy, penaltyWhy),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		return scored[i].TechniqueID < scored[j].TechniqueID
	})

	if len(scored) > constraints.MaxCandidates {
		scored = scored[:constraints.MaxCandidates]
	}
	return scored
}

// cosine computes cosine similarity between two equal-length vectors
func cosine(a, b []float32) float64 {
	dot := float64(vek32.Dot(a, b))
	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

// retrievalKeywords are the terms a technique can be keyword-matched on
func retrievalKeywords(t *compendium.Technique) []string {
	keywords := make([]string, 0, len(t.Tags)+len(t.Aliases)+4)
	keywords = append(keywords, t.Tags...)
	keywords = append(keywords, t.Aliases...)
	keywords = append(keywords, signals.Tokenize(t.Name)...)
	return keywords
}

func signalBoost(analysis *signals.QueryAnalysis, t *compendium.Technique, queryTokens map[string]bool) (float64, []string) {
	var boost float64
	var reasons []string

	if commandMatches(analysis.Commands, t) {
		boost += commandBoost
		reasons = append(reasons, "explicit command match")
	}

	overlaps := 0
	for _, kw := range retrievalKeywords(t) {
		if queryTokens[strings.ToLower(kw)] {
			overlaps++
		}
	}
	if overlaps > 0 {
		boost += keywordBoost * float64(overlaps)
		reasons = append(reasons, fmt.Sprintf("%d keyword overlap(s)", overlaps))
	}

	if analysis.Intent == signals.IntentCreative && t.Category == compendium.CategoryCreative {
		boost += intentBoost
		reasons = append(reasons, "creative intent alignment")
	}
	if analysis.Intent == signals.IntentCode && t.HasTag("code") {
		boost += intentBoost
		reasons = append(reasons, "code intent alignment")
	}

	if boost > boostCap {
		boost = boostCap
	}
	return boost, reasons
}

// commandMatches checks explicit /command tokens against the technique's id
// and aliases, exact match first, then a normalized fuzzy match so near-miss
// spellings like /chainofthought still land.
func commandMatches(commands []string, t *compendium.Technique) bool {
	for _, cmd := range commands {
		if cmd == t.ID {
			return true
		}
		for _, alias := range t.Aliases {
			if cmd == strings.ToLower(alias) {
				return true
			}
		}
	}
	for _, cmd := range commands {
		if fuzzy.MatchNormalizedFold(cmd, strings.ReplaceAll(t.ID, "_", "")) {
			return true
		}
	}
	return false
}

func signalPenalty(analysis *signals.QueryAnalysis, t *compendium.Technique) (float64, []string) {
	var penalty float64
	var reasons []string

	if analysis.Complexity == signals.ComplexityBeginner && t.Difficulty == compendium.DifficultyExpert {
		penalty += difficultyPenalty
		reasons = append(reasons, "expert technique for beginner request")
	}
	if analysis.Format == signals.FormatJSON && !t.HasTag("structured") {
		penalty += formatPenalty
		reasons = append(reasons, "json requested but technique is unstructured")
	}
	if analysis.HasConstraint(signals.ConstraintConcise) && t.EstimatedTokens > conciseTokenCeiling {
		penalty += concisePenalty
		reasons = append(reasons, "token-heavy technique under concise constraint")
	}

	if penalty > penaltyCap {
		penalty = penaltyCap
	}
	return penalty, reasons
}

func rationale(name string, similarity float64, boostWhy, penaltyWhy []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: similarity %.2f", name, similarity)
	if len(boostWhy) > 0 {
		b.WriteString("; boosted for ")
		b.WriteString(strings.Join(boostWhy, ", "))
	}
	if len(penaltyWhy) > 0 {
		b.WriteString("; penalized for ")
		b.WriteString(strings.Join(penaltyWhy, ", "))
	}
	return b.String()
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}
