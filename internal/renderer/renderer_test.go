package renderer

import (
	"strings"
	"testing"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/composer"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/signals"
)

func fixturePipeline(t *testing.T) (*composer.Pipeline, *compendium.Store) {
	t.Helper()
	techniques := []compendium.Technique{
		{
			ID:          "role_prompting",
			Name:        "Role Prompting",
			Category:    compendium.CategoryFoundational,
			Description: "Assign the model a role suited to the task",
			Template:    "You are an expert {role}.",
			Difficulty:  compendium.DifficultyBeginner, EstimatedTokens: 50,
		},
		{
			ID:          "chain_of_thought",
			Name:        "Chain of Thought",
			Category:    compendium.CategoryReasoning,
			Description: "Reason step by step before answering",
			Example:     "Let's think through this step by step.",
			Difficulty:  compendium.DifficultyIntermediate, EstimatedTokens: 120,
		},
	}
	store := compendium.NewStore(techniques, nil)
	scored := []matcher.TechniqueScore{
		{TechniqueID: "role_prompting", FinalScore: 0.9},
		{TechniqueID: "chain_of_thought", FinalScore: 0.85},
	}
	pipeline, err := composer.Compose(scored, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	return pipeline, store
}

func TestRenderStructure(t *testing.T) {
	pipeline, store := fixturePipeline(t)
	analysis := &signals.QueryAnalysis{
		RawText:     "Explain /cot why the sky is blue",
		CleanedText: "Explain /cot why the sky is blue",
		Intent:      signals.IntentExplanation,
		Complexity:  signals.ComplexityIntermediate,
		Format:      signals.FormatMarkdown,
		Constraints: []string{signals.ConstraintConcise},
	}

	prompt := Render(pipeline, analysis, store)

	sections := []string{
		"# Prompt Upgrade Directive",
		"## Request Analysis",
		"## Technique 1:",
		"## Technique 2:",
		"## Execution Instructions",
		"## User Query",
		"## Output Requirements",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(prompt, section)
		if idx < 0 {
			t.Fatalf("section %q missing from rendered prompt", section)
		}
		if idx < last {
			t.Errorf("section %q out of order", section)
		}
		last = idx
	}
}

func TestRenderQueryVerbatim(t *testing.T) {
	pipeline, store := fixturePipeline(t)
	raw := "  Keep My CASING and   spacing /cmd  "
	analysis := &signals.QueryAnalysis{
		RawText:     raw,
		CleanedText: strings.TrimSpace(raw),
		Intent:      signals.IntentGeneral,
		Complexity:  signals.ComplexityIntermediate,
	}

	prompt := Render(pipeline, analysis, store)

	if !strings.Contains(prompt, "<<<QUERY\n"+raw+"\nQUERY>>>") {
		t.Error("raw query is not embedded verbatim between delimiters")
	}
}

func TestRenderTechniqueDetails(t *testing.T) {
	pipeline, store := fixturePipeline(t)
	analysis := &signals.QueryAnalysis{
		RawText:     "anything",
		CleanedText: "anything",
		Intent:      signals.IntentGeneral,
		Complexity:  signals.ComplexityIntermediate,
	}

	prompt := Render(pipeline, analysis, store)

	if !strings.Contains(prompt, "You are an expert {role}.") {
		t.Error("template fragment missing")
	}
	if !strings.Contains(prompt, "Let's think through this step by step.") {
		t.Error("example missing")
	}
	// Role prompting is foundational, so it must render before reasoning
	if strings.Index(prompt, "Role Prompting") > strings.Index(prompt, "Chain of Thought") {
		t.Error("techniques not rendered in execution order")
	}
}

func TestRenderOutputRequirements(t *testing.T) {
	pipeline, store := fixturePipeline(t)
	analysis := &signals.QueryAnalysis{
		RawText:     "list things",
		CleanedText: "list things",
		Intent:      signals.IntentGeneral,
		Complexity:  signals.ComplexityIntermediate,
		Format:      signals.FormatJSON,
		Tone:        signals.ToneProfessional,
		Constraints: []string{signals.ConstraintNoCode},
	}

	prompt := Render(pipeline, analysis, store)

	for _, want := range []string{"valid JSON only", "professional tone", "Do not include code"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("output requirements missing %q", want)
		}
	}
}
