// Package composer selects an ordered, bounded technique pipeline from scored
// candidates, honoring conflict and complement relations. Composition is
// fully deterministic: identical input always yields an identical pipeline.
package composer

import (
	"errors"
	"sort"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
)

// ErrNoSuitableTechnique is returned when no scored candidate survives
// retrieval. Usually an empty or misconfigured compendium rather than a bad
// request.
var ErrNoSuitableTechnique = errors.New("no suitable technique for query")

// complementBonus is added to a candidate's score when it complements a
// technique already in the pipeline
const complementBonus = 0.1

// DefaultMaxLength bounds pipelines unless the caller configures otherwise
const DefaultMaxLength = 5

// Pipeline is an ordered, bounded technique selection for one request.
// Immutable after composition.
type Pipeline struct {
	Techniques      []matcher.TechniqueScore `json:"techniques"`
	ExecutionOrder  []int                    `json:"execution_order"` // permutation of Techniques indices
	ConfidenceScore float64                  `json:"confidence_score"`
	EstimatedTokens int                      `json:"estimated_tokens"`
}

// ID returns a stable identifier for the pipeline: its technique ids joined
// in execution order.
func (p *Pipeline) ID() string {
	ids := make([]string, 0, len(p.ExecutionOrder))
	for _, idx := range p.ExecutionOrder {
		ids = append(ids, p.Techniques[idx].TechniqueID)
	}
	return strings.Join(ids, "+")
}

// InOrder returns the selected scores in execution order
func (p *Pipeline) InOrder() []matcher.TechniqueScore {
	out := make([]matcher.TechniqueScore, 0, len(p.ExecutionOrder))
	for _, idx := range p.ExecutionOrder {
		out = append(out, p.Techniques[idx])
	}
	return out
}

// Compose builds a pipeline from scored candidates. Candidates must arrive
// sorted best-first (matcher.Retrieve guarantees this). Conflicts are treated
// as bidirectional: a candidate is rejected if it lists any selected
// technique in conflicts_with, or any selected technique lists it.
func Compose(scored []matcher.TechniqueScore, store *compendium.Store, maxLength int) (*Pipeline, error) {
	if len(scored) == 0 {
		return nil, ErrNoSuitableTechnique
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	selected := []matcher.TechniqueScore{scored[0]}

	for _, candidate := range scored[1:] {
		if len(selected) >= maxLength {
			break
		}
		if conflicts(candidate.TechniqueID, selected, store) {
			continue
		}
		if complements(candidate.TechniqueID, selected, store) {
			candidate.ComplementBoost = complementBonus
			candidate.FinalScore = matcher.Clamp(candidate.FinalScore + complementBonus)
			candidate.Rationale += "; boosted for complementing a selected technique"
		}
		selected = append(selected, candidate)
	}

	pipeline := &Pipeline{
		Techniques:     selected,
		ExecutionOrder: executionOrder(selected, store),
	}

	var scoreSum float64
	for _, ts := range selected {
		scoreSum += ts.FinalScore
		if t, ok := store.Get(ts.TechniqueID); ok {
			pipeline.EstimatedTokens += t.EstimatedTokens
		}
	}
	pipeline.ConfidenceScore = scoreSum / float64(len(selected))

	return pipeline, nil
}

// conflicts checks the relation from both sides
func conflicts(candidateID string, selected []matcher.TechniqueScore, store *compendium.Store) bool {
	candidate, ok := store.Get(candidateID)
	if !ok {
		return false
	}
	for _, sel := range selected {
		if candidate.ConflictsWithID(sel.TechniqueID) {
			return true
		}
		if other, ok := store.Get(sel.TechniqueID); ok && other.ConflictsWithID(candidateID) {
			return true
		}
	}
	return false
}

func complements(candidateID string, selected []matcher.TechniqueScore, store *compendium.Store) bool {
	candidate, ok := store.Get(candidateID)
	if !ok {
		return false
	}
	for _, sel := range selected {
		if candidate.Complements(sel.TechniqueID) {
			return true
		}
		if other, ok := store.Get(sel.TechniqueID); ok && other.Complements(candidateID) {
			return true
		}
	}
	return false
}

// orderBuckets maps name keywords to execution priority. Lower runs earlier.
var orderBuckets = []struct {
	priority int
	keywords []string
}{
	{1, []string{"foundational", "basic", "core", "setup", "clear", "instruction", "role"}},
	{2, []string{"chain", "reasoning", "think", "cot", "thought"}},
	{3, []string{"structure", "organize", "decomposition", "plan"}},
	{5, []string{"meta", "framework", "strategy"}},
	{6, []string{"quality", "verify", "check", "validate", "verification"}},
	{7, []string{"output", "format", "present"}},
}

const defaultBucket = 4

// bucketFor assigns a technique to its execution bucket by name keywords
func bucketFor(name string) int {
	lowered := strings.ToLower(name)
	for _, bucket := range orderBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(lowered, kw) {
				return bucket.priority
			}
		}
	}
	return defaultBucket
}

// executionOrder partitions selected techniques into priority buckets and
// orders each bucket by final score descending, technique id ascending.
func executionOrder(selected []matcher.TechniqueScore, store *compendium.Store) []int {
	type slot struct {
		index  int
		bucket int
	}
	slots := make([]slot, len(selected))
	for i, ts := range selected {
		name := ts.TechniqueID
		if t, ok := store.Get(ts.TechniqueID); ok {
			name = t.Name
		}
		slots[i] = slot{index: i, bucket: bucketFor(name)}
	}

	sort.SliceStable(slots, func(a, b int) bool {
		sa, sb := slots[a], slots[b]
		if sa.bucket != sb.bucket {
			return sa.bucket < sb.bucket
		}
		ta, tb := selected[sa.index], selected[sb.index]
		if ta.FinalScore != tb.FinalScore {
			return ta.FinalScore > tb.FinalScore
		}
		return ta.TechniqueID < tb.TechniqueID
	})

	order := make([]int, len(slots))
	for i, s := range slots {
		order[i] = s.index
	}
	return order
}
