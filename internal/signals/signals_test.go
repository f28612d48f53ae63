package signals

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/promptforge-ai/demon-engine/internal/embeddings"
)

// stubEmbedder returns a fixed vector, or a configured error
type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *stubEmbedder) Dimensions() int  { return 3 }
func (s *stubEmbedder) Provider() string { return "stub" }

func extract(t *testing.T, text string) *QueryAnalysis {
	t.Helper()
	analysis, err := Extract(context.Background(), text, nil, &stubEmbedder{})
	if err != nil {
		t.Fatalf("Extract(%q) failed: %v", text, err)
	}
	return analysis
}

func TestExtractDefaults(t *testing.T) {
	analysis := extract(t, "tell me about lighthouses")

	if analysis.Intent != IntentGeneral {
		t.Errorf("intent = %s, want general", analysis.Intent)
	}
	if analysis.Complexity != ComplexityIntermediate {
		t.Errorf("complexity = %s, want intermediate", analysis.Complexity)
	}
	if analysis.Format != FormatNone {
		t.Errorf("format = %s, want none", analysis.Format)
	}
	if analysis.Tone != ToneNone {
		t.Errorf("tone = %s, want none", analysis.Tone)
	}
}

func TestExtractPreservesCasing(t *testing.T) {
	analysis := extract(t, "  Explain TCP Slow-Start  ")

	if analysis.RawText != "  Explain TCP Slow-Start  " {
		t.Errorf("raw text was altered: %q", analysis.RawText)
	}
	if analysis.CleanedText != "Explain TCP Slow-Start" {
		t.Errorf("cleaned text = %q, want trimmed original casing", analysis.CleanedText)
	}
}

func TestExtractCommands(t *testing.T) {
	analysis := extract(t, "/cot first, then /json and /cot again")

	want := []string{"cot", "json", "cot"}
	if len(analysis.Commands) != len(want) {
		t.Fatalf("commands = %v, want %v", analysis.Commands, want)
	}
	for i, cmd := range want {
		if analysis.Commands[i] != cmd {
			t.Errorf("commands[%d] = %q, want %q", i, analysis.Commands[i], cmd)
		}
	}
}

// firstMatchingFamily mirrors the extractor's first-match-wins rule so the
// trigger tables can be enumerated without hardcoding collisions
func firstMatchingFamily(text string, families []Family, fallback string) string {
	lowered := strings.ToLower(text)
	for _, family := range families {
		for _, trigger := range family.Triggers {
			if strings.Contains(lowered, trigger) {
				return family.Value
			}
		}
	}
	return fallback
}

func TestIntentFamilyTriggers(t *testing.T) {
	for _, family := range IntentFamilies {
		for _, trigger := range family.Triggers {
			text := "please handle this: " + trigger
			analysis := extract(t, text)
			want := firstMatchingFamily(text, IntentFamilies, string(IntentGeneral))
			if string(analysis.Intent) != want {
				t.Errorf("trigger %q: intent = %s, want %s", trigger, analysis.Intent, want)
			}
		}
	}
}

func TestFormatFamilyTriggers(t *testing.T) {
	for _, family := range FormatFamilies {
		for _, trigger := range family.Triggers {
			text := "respond using " + trigger
			analysis := extract(t, text)
			want := firstMatchingFamily(text, FormatFamilies, "")
			if string(analysis.Format) != want {
				t.Errorf("trigger %q: format = %s, want %s", trigger, analysis.Format, want)
			}
		}
	}
}

func TestFormatJSONPriority(t *testing.T) {
	analysis := extract(t, "give me a bulleted list as json")

	if analysis.Format != FormatJSON {
		t.Errorf("format = %s, want json to win over list", analysis.Format)
	}
}

func TestConstraintExtraction(t *testing.T) {
	analysis := extract(t, "keep it short and comprehensive, no code please")

	want := []string{ConstraintConcise, ConstraintDetailed, ConstraintNoCode}
	if len(analysis.Constraints) != len(want) {
		t.Fatalf("constraints = %v, want %v", analysis.Constraints, want)
	}
	for i, c := range want {
		if analysis.Constraints[i] != c {
			t.Errorf("constraints[%d] = %q, want %q (sorted)", i, analysis.Constraints[i], c)
		}
	}
}

func TestContextConstraints(t *testing.T) {
	analysis, err := Extract(context.Background(), "hello there friend",
		map[string]string{"constraints": "fast, concise"}, &stubEmbedder{})
	if err != nil {
		t.Fatal(err)
	}
	if !analysis.HasConstraint(ConstraintFast) || !analysis.HasConstraint(ConstraintConcise) {
		t.Errorf("context constraints not applied: %v", analysis.Constraints)
	}
}

func TestEmbeddingFailureFailsExtraction(t *testing.T) {
	stub := &stubEmbedder{err: embeddings.ErrUnavailable}
	_, err := Extract(context.Background(), "some text", nil, stub)
	if err == nil {
		t.Fatal("expected extraction to fail when embedding is unavailable")
	}
	if !errors.Is(err, embeddings.ErrUnavailable) {
		t.Errorf("error %v does not wrap ErrUnavailable", err)
	}
}

func TestConfidenceGrowsWithSignals(t *testing.T) {
	plain := extract(t, "hello there general query")
	rich := extract(t, "/cot analyze this json output, keep it short, professional tone")

	if rich.Confidence <= plain.Confidence {
		t.Errorf("confidence %v should exceed %v with more signals", rich.Confidence, plain.Confidence)
	}
	if rich.Confidence > 1.0 {
		t.Errorf("confidence %v exceeds 1.0", rich.Confidence)
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Hello, World! don't-stop 42")
	want := []string{"hello", "world", "don't", "stop", "42"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}
