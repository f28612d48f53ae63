package compendium

import (
	"fmt"
	"time"
)

// Category classifies a technique by its role in a pipeline
type Category string

const (
	CategoryFoundational     Category = "foundational"
	CategoryReasoning        Category = "reasoning"
	CategoryOptimization     Category = "optimization"
	CategoryMultimodal       Category = "multimodal"
	CategoryPlanning         Category = "planning"
	CategoryRetrieval        Category = "retrieval"
	CategoryOutputStructure  Category = "output-structuring"
	CategorySafety           Category = "safety"
	CategoryMetaFramework    Category = "meta-framework"
	CategoryCreative         Category = "creative"
)

// Categories lists every valid technique category
var Categories = []Category{
	CategoryFoundational,
	CategoryReasoning,
	CategoryOptimization,
	CategoryMultimodal,
	CategoryPlanning,
	CategoryRetrieval,
	CategoryOutputStructure,
	CategorySafety,
	CategoryMetaFramework,
	CategoryCreative,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Difficulty is an ordinal skill level for applying a technique
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyExpert       Difficulty = "expert"
)

// Rank returns the ordinal position of the difficulty (beginner=0 .. expert=3).
// Unknown values rank as intermediate.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyBeginner:
		return 0
	case DifficultyIntermediate:
		return 1
	case DifficultyAdvanced:
		return 2
	case DifficultyExpert:
		return 3
	default:
		return 1
	}
}

// Valid reports whether d is a known difficulty level
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyExpert:
		return true
	}
	return false
}

// Technique is a reusable prompt-engineering recipe with metadata and
// relations to other techniques. Instances handed out by the Store are
// copies; callers never hold a reference into the live catalog.
type Technique struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	UseCases    []string `json:"use_cases,omitempty"`
	Example     string   `json:"example,omitempty"`
	Template    string   `json:"template,omitempty"`

	ComplementaryTechniques []string `json:"complementary_techniques,omitempty"`
	ConflictsWith           []string `json:"conflicts_with,omitempty"`

	Difficulty      Difficulty `json:"difficulty"`
	EstimatedTokens int        `json:"estimated_tokens"`

	// Feedback-maintained fields. The loader seeds them; afterwards only
	// Store.UpdateFeedback mutates them.
	PerformanceScore float64 `json:"performance_score"`
	SuccessRate      float64 `json:"success_rate"`
	UsageFrequency   int64   `json:"usage_frequency"`
}

// HasTag reports whether the technique carries the given tag
func (t *Technique) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// ConflictsWithID reports whether the technique declares a conflict with id
func (t *Technique) ConflictsWithID(id string) bool {
	for _, c := range t.ConflictsWith {
		if c == id {
			return true
		}
	}
	return false
}

// Complements reports whether the technique declares id as complementary
func (t *Technique) Complements(id string) bool {
	for _, c := range t.ComplementaryTechniques {
		if c == id {
			return true
		}
	}
	return false
}

// Validate checks a technique record for catalog-load errors
func (t *Technique) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("technique has empty id")
	}
	if t.Name == "" {
		return fmt.Errorf("technique %q has empty name", t.ID)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("technique %q has unknown category %q", t.ID, t.Category)
	}
	if !t.Difficulty.Valid() {
		return fmt.Errorf("technique %q has unknown difficulty %q", t.ID, t.Difficulty)
	}
	if t.EstimatedTokens <= 0 {
		return fmt.Errorf("technique %q has non-positive estimated_tokens %d", t.ID, t.EstimatedTokens)
	}
	if t.Description == "" {
		return fmt.Errorf("technique %q has empty description", t.ID)
	}
	return nil
}

// FeedbackDelta carries one execution's worth of learning signal for a
// technique. Rating is in [0,1]; Succeeded marks whether the pipeline's
// validation passed.
type FeedbackDelta struct {
	Rating    float64
	Succeeded bool
	At        time.Time
}
