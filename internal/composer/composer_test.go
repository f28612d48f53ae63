package composer

import (
	"math"
	"reflect"
	"testing"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
)

func newTechnique(id, name string) compendium.Technique {
	return compendium.Technique{
		ID:              id,
		Name:            name,
		Category:        compendium.CategoryReasoning,
		Description:     "test technique",
		Difficulty:      compendium.DifficultyIntermediate,
		EstimatedTokens: 100,
	}
}

func score(id string, final float64) matcher.TechniqueScore {
	return matcher.TechniqueScore{TechniqueID: id, Similarity: final, FinalScore: final}
}

func TestComposeEmptyInputFails(t *testing.T) {
	store := compendium.NewStore(nil, nil)
	_, err := Compose(nil, store, 5)
	if err != ErrNoSuitableTechnique {
		t.Errorf("err = %v, want ErrNoSuitableTechnique", err)
	}
}

func TestComposeConflictExclusion(t *testing.T) {
	// A and B each list the other; A scores higher, so only A survives
	a := newTechnique("tech_a", "Technique A")
	a.ConflictsWith = []string{"tech_b"}
	b := newTechnique("tech_b", "Technique B")
	b.ConflictsWith = []string{"tech_a"}
	store := compendium.NewStore([]compendium.Technique{a, b}, nil)

	pipeline, err := Compose([]matcher.TechniqueScore{score("tech_a", 0.9), score("tech_b", 0.8)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline.Techniques) != 1 || pipeline.Techniques[0].TechniqueID != "tech_a" {
		t.Errorf("pipeline = %v, want tech_a only", pipeline.Techniques)
	}
}

func TestComposeConflictIsBidirectional(t *testing.T) {
	// Only A declares the conflict; B must still be excluded when A is in
	a := newTechnique("tech_a", "Technique A")
	a.ConflictsWith = []string{"tech_b"}
	b := newTechnique("tech_b", "Technique B")
	store := compendium.NewStore([]compendium.Technique{a, b}, nil)

	pipeline, err := Compose([]matcher.TechniqueScore{score("tech_a", 0.9), score("tech_b", 0.8)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range pipeline.Techniques {
		if ts.TechniqueID == "tech_b" {
			t.Error("tech_b accepted despite tech_a's declared conflict")
		}
	}

	// And the other direction: the candidate declares the conflict
	pipeline, err = Compose([]matcher.TechniqueScore{score("tech_b", 0.9), score("tech_a", 0.8)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range pipeline.Techniques {
		if ts.TechniqueID == "tech_a" {
			t.Error("tech_a accepted despite its own declared conflict with selected tech_b")
		}
	}
}

func TestComposeLengthBound(t *testing.T) {
	var techniques []compendium.Technique
	var scored []matcher.TechniqueScore
	ids := []string{"t_a", "t_b", "t_c", "t_d", "t_e", "t_f", "t_g"}
	for i, id := range ids {
		techniques = append(techniques, newTechnique(id, id))
		scored = append(scored, score(id, 0.95-float64(i)*0.01))
	}
	store := compendium.NewStore(techniques, nil)

	pipeline, err := Compose(scored, store, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline.Techniques) != 3 {
		t.Errorf("pipeline length = %d, want 3", len(pipeline.Techniques))
	}
}

func TestComposeComplementBonus(t *testing.T) {
	a := newTechnique("tech_a", "Technique A")
	a.ComplementaryTechniques = []string{"tech_b"}
	b := newTechnique("tech_b", "Technique B")
	store := compendium.NewStore([]compendium.Technique{a, b}, nil)

	pipeline, err := Compose([]matcher.TechniqueScore{score("tech_a", 0.9), score("tech_b", 0.8)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range pipeline.Techniques {
		if ts.TechniqueID == "tech_b" {
			if ts.ComplementBoost != 0.1 {
				t.Errorf("complement boost = %v, want 0.1", ts.ComplementBoost)
			}
			if math.Abs(ts.FinalScore-0.9) > 1e-9 {
				t.Errorf("boosted final score = %v, want 0.9", ts.FinalScore)
			}
		}
	}
}

func TestComposeComplementBoostReclamps(t *testing.T) {
	a := newTechnique("tech_a", "Technique A")
	a.ComplementaryTechniques = []string{"tech_b"}
	b := newTechnique("tech_b", "Technique B")
	store := compendium.NewStore([]compendium.Technique{a, b}, nil)

	pipeline, err := Compose([]matcher.TechniqueScore{score("tech_a", 0.99), score("tech_b", 0.98)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range pipeline.Techniques {
		if ts.FinalScore > 1.0 {
			t.Errorf("final score %v escaped the clamp after complement boost", ts.FinalScore)
		}
	}
}

func TestComposeIdempotent(t *testing.T) {
	var techniques []compendium.Technique
	var scored []matcher.TechniqueScore
	for i, id := range []string{"chain_of_thought", "output_format_spec", "role_prompting", "self_verification"} {
		techniques = append(techniques, newTechnique(id, id))
		scored = append(scored, score(id, 0.95-float64(i)*0.02))
	}
	store := compendium.NewStore(techniques, nil)

	first, err := Compose(scored, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compose(scored, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("compose is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExecutionOrderBuckets(t *testing.T) {
	techniques := []compendium.Technique{
		newTechnique("output_format", "Output Format Specification"),
		newTechnique("chain_reasoning", "Chain of Thought Reasoning"),
		newTechnique("clear_instructions", "Clear Instruction Setup"),
		newTechnique("self_check", "Self Verification Check"),
	}
	scored := []matcher.TechniqueScore{
		score("output_format", 0.95),
		score("chain_reasoning", 0.90),
		score("clear_instructions", 0.85),
		score("self_check", 0.80),
	}
	store := compendium.NewStore(techniques, nil)

	pipeline, err := Compose(scored, store, 5)
	if err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, ts := range pipeline.InOrder() {
		order = append(order, ts.TechniqueID)
	}
	want := []string{"clear_instructions", "chain_reasoning", "self_check", "output_format"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

func TestComposeAggregates(t *testing.T) {
	a := newTechnique("tech_a", "Technique A")
	a.EstimatedTokens = 150
	b := newTechnique("tech_b", "Technique B")
	b.EstimatedTokens = 250
	store := compendium.NewStore([]compendium.Technique{a, b}, nil)

	pipeline, err := Compose([]matcher.TechniqueScore{score("tech_a", 0.9), score("tech_b", 0.7)}, store, 5)
	if err != nil {
		t.Fatal(err)
	}
	if pipeline.EstimatedTokens != 400 {
		t.Errorf("estimated tokens = %d, want 400", pipeline.EstimatedTokens)
	}
	if got := pipeline.ConfidenceScore; math.Abs(got-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want mean 0.8", got)
	}
	if pipeline.ID() == "" {
		t.Error("pipeline id is empty")
	}
}
