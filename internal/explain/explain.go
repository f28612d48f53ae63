// Package explain derives a structured rationale from a completed pipeline
// and its execution result. The log is read-only output, never an input to
// any decision.
package explain

import (
	"fmt"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/composer"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/signals"
)

// TechniqueRationale explains one selected technique
type TechniqueRationale struct {
	TechniqueID     string  `json:"technique_id"`
	Name            string  `json:"name"`
	Position        int     `json:"position"` // 1-based execution position
	Similarity      float64 `json:"similarity"`
	SignalBoost     float64 `json:"signal_boost"`
	Penalty         float64 `json:"penalty"`
	ComplementBoost float64 `json:"complement_boost"`
	FinalScore      float64 `json:"final_score"`
	Rationale       string  `json:"rationale"`
}

// QualityFactors breaks the result's quality down by axis
type QualityFactors struct {
	Fidelity   float64 `json:"fidelity"`
	Confidence float64 `json:"confidence"`
	Validation string  `json:"validation"`
}

// Alternative is a scored candidate that was not selected
type Alternative struct {
	TechniqueID string  `json:"technique_id"`
	FinalScore  float64 `json:"final_score"`
	Reason      string  `json:"reason"`
}

// Log is the full explainability record for one request
type Log struct {
	Narrative    string               `json:"narrative"`
	Techniques   []TechniqueRationale `json:"techniques"`
	Quality      QualityFactors       `json:"quality"`
	Alternatives []Alternative        `json:"alternatives"`
}

// Build derives a Log from the composed pipeline, the analysis it served,
// the fidelity score, validation errors, and the full scored candidate list
// (used to surface alternatives that were considered but not chosen).
func Build(pipeline *composer.Pipeline, analysis *signals.QueryAnalysis, scored []matcher.TechniqueScore, store *compendium.Store, fidelity float64, validationErrs []string) *Log {
	selected := make(map[string]bool, len(pipeline.Techniques))
	for _, ts := range pipeline.Techniques {
		selected[ts.TechniqueID] = true
	}

	logEntry := &Log{
		Quality: QualityFactors{
			Fidelity:   fidelity,
			Confidence: pipeline.ConfidenceScore,
			Validation: validationSummary(validationErrs),
		},
	}

	for pos, ts := range pipeline.InOrder() {
		name := ts.TechniqueID
		if t, ok := store.Get(ts.TechniqueID); ok {
			name = t.Name
		}
		logEntry.Techniques = append(logEntry.Techniques, TechniqueRationale{
			TechniqueID:     ts.TechniqueID,
			Name:            name,
			Position:        pos + 1,
			Similarity:      ts.Similarity,
			SignalBoost:     ts.SignalBoost,
			Penalty:         ts.Penalty,
			ComplementBoost: ts.ComplementBoost,
			FinalScore:      ts.FinalScore,
			Rationale:       ts.Rationale,
		})
	}

	for _, candidate := range scored {
		if selected[candidate.TechniqueID] {
			continue
		}
		logEntry.Alternatives = append(logEntry.Alternatives, Alternative{
			TechniqueID: candidate.TechniqueID,
			FinalScore:  candidate.FinalScore,
			Reason:      alternativeReason(candidate, pipeline, store),
		})
	}

	logEntry.Narrative = narrative(pipeline, analysis, logEntry)
	return logEntry
}

// alternativeReason explains why a scored candidate was left out
func alternativeReason(candidate matcher.TechniqueScore, pipeline *composer.Pipeline, store *compendium.Store) string {
	tech, ok := store.Get(candidate.TechniqueID)
	if ok {
		for _, ts := range pipeline.Techniques {
			if tech.ConflictsWithID(ts.TechniqueID) {
				return fmt.Sprintf("conflicts with selected technique %s", ts.TechniqueID)
			}
			if other, ok := store.Get(ts.TechniqueID); ok && other.ConflictsWithID(candidate.TechniqueID) {
				return fmt.Sprintf("selected technique %s conflicts with it", ts.TechniqueID)
			}
		}
	}
	return "outscored within the pipeline length bound"
}

func validationSummary(errs []string) string {
	if len(errs) == 0 {
		return "passed"
	}
	return "failed: " + strings.Join(errs, "; ")
}

// narrative writes the overall decision story in one short paragraph
func narrative(pipeline *composer.Pipeline, analysis *signals.QueryAnalysis, logEntry *Log) string {
	var b strings.Builder

	names := make([]string, 0, len(logEntry.Techniques))
	for _, tr := range logEntry.Techniques {
		names = append(names, tr.Name)
	}

	fmt.Fprintf(&b, "Detected %s intent at %s complexity", analysis.Intent, analysis.Complexity)
	if analysis.Format != signals.FormatNone {
		fmt.Fprintf(&b, " with a requested %s output format", analysis.Format)
	}
	if len(analysis.Constraints) > 0 {
		fmt.Fprintf(&b, " under constraints [%s]", strings.Join(analysis.Constraints, ", "))
	}
	fmt.Fprintf(&b, ". Composed a %d-technique pipeline (%s) at %.2f confidence, estimated %d technique tokens.",
		len(pipeline.Techniques), strings.Join(names, " -> "), pipeline.ConfidenceScore, pipeline.EstimatedTokens)
	if len(logEntry.Alternatives) > 0 {
		fmt.Fprintf(&b, " %d alternative technique(s) were considered and not chosen.", len(logEntry.Alternatives))
	}

	return b.String()
}
