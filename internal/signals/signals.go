// Package signals turns raw request text into the structured signal set the
// matcher scores against. Classification is a fixed, enumerable keyword-table
// pass; the only external capability is the embedding call.
package signals

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/embeddings"
)

// Intent is the detected purpose of a query
type Intent string

const (
	IntentCreative    Intent = "creative"
	IntentCode        Intent = "code"
	IntentAnalysis    Intent = "analysis"
	IntentExplanation Intent = "explanation"
	IntentGeneral     Intent = "general"
)

// OutputFormat is an explicitly requested output shape
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
	FormatCode     OutputFormat = "code"
	FormatList     OutputFormat = "list"
	FormatNone     OutputFormat = ""
)

// Tone is a requested voice for the response
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneTechnical    Tone = "technical"
	ToneNone         Tone = ""
)

// Complexity is the estimated sophistication level of the request
type Complexity string

const (
	ComplexityBeginner     Complexity = "beginner"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// Constraint flags extracted from fixed phrase families
const (
	ConstraintConcise  = "concise"
	ConstraintDetailed = "detailed"
	ConstraintNoCode   = "no_code"
	ConstraintFast     = "fast"
)

// Family binds a classification value to the phrases that trigger it.
// Families are checked in slice order; the first match wins.
type Family struct {
	Value    string
	Triggers []string
}

// IntentFamilies maps intents to trigger phrases, in priority order
var IntentFamilies = []Family{
	{Value: string(IntentCreative), Triggers: []string{
		"story", "poem", "creative", "imagine", "brainstorm", "invent", "ideas", "design a", "write a song", "fiction",
	}},
	{Value: string(IntentCode), Triggers: []string{
		"code", "function", "debug", "implement", "refactor", "script", "program", "compile", "api", "bug", "class ", "regex",
	}},
	{Value: string(IntentAnalysis), Triggers: []string{
		"analyze", "analyse", "compare", "evaluate", "assess", "pros and cons", "trade-off", "tradeoff", "review",
	}},
	{Value: string(IntentExplanation), Triggers: []string{
		"explain", "what is", "what are", "how does", "why does", "describe", "teach me", "walk me through",
	}},
}

// FormatFamilies maps requested output formats to trigger phrases. JSON wins
// when multiple families match, so it is listed first; slice order is the
// documented priority.
var FormatFamilies = []Family{
	{Value: string(FormatJSON), Triggers: []string{"json", "as an object", "machine readable", "machine-readable"}},
	{Value: string(FormatMarkdown), Triggers: []string{"markdown", "md format", "with headings", "with headers"}},
	{Value: string(FormatCode), Triggers: []string{"code block", "snippet", "just the code", "only code"}},
	{Value: string(FormatList), Triggers: []string{"list of", "bullet", "bulleted", "numbered list", "enumerate"}},
}

// ToneFamilies maps tones to trigger phrases
var ToneFamilies = []Family{
	{Value: string(ToneProfessional), Triggers: []string{"professional", "formal", "business tone", "for executives"}},
	{Value: string(ToneCasual), Triggers: []string{"casual", "friendly", "informal", "conversational"}},
	{Value: string(ToneTechnical), Triggers: []string{"technical", "in depth technical", "for engineers", "precise terminology"}},
}

// ComplexityFamilies maps complexity levels to trigger phrases; anything
// unmatched is intermediate
var ComplexityFamilies = []Family{
	{Value: string(ComplexityBeginner), Triggers: []string{"beginner", "simple terms", "like i'm five", "eli5", "new to", "basics"}},
	{Value: string(ComplexityAdvanced), Triggers: []string{"advanced", "expert", "deep dive", "rigorous", "graduate level", "state of the art"}},
}

// ConstraintFamilies maps constraint flags to trigger phrases
var ConstraintFamilies = []Family{
	{Value: ConstraintConcise, Triggers: []string{"concise", "brief", "short answer", "keep it short", "tl;dr", "tldr"}},
	{Value: ConstraintDetailed, Triggers: []string{"detailed", "comprehensive", "thorough", "in depth", "in-depth"}},
	{Value: ConstraintNoCode, Triggers: []string{"no code", "without code", "don't show code", "plain english only"}},
	{Value: ConstraintFast, Triggers: []string{"quickly", "asap", "fast answer", "right away"}},
}

var commandPattern = regexp.MustCompile(`/([a-zA-Z_][a-zA-Z0-9_]*)`)

// QueryAnalysis is the structured signal set for one request. Immutable once
// produced; owned by the request being served.
type QueryAnalysis struct {
	RawText     string
	CleanedText string
	Intent      Intent
	Complexity  Complexity
	Format      OutputFormat
	Tone        Tone
	Constraints []string // sorted
	Commands    []string // order preserved, duplicates allowed
	Confidence  float64
	Embedding   []float32
}

// HasConstraint reports whether the analysis carries the given constraint flag
func (a *QueryAnalysis) HasConstraint(flag string) bool {
	for _, c := range a.Constraints {
		if c == flag {
			return true
		}
	}
	return false
}

// Tokens returns the lowercase word tokens of the cleaned text
func (a *QueryAnalysis) Tokens() []string {
	return Tokenize(a.CleanedText)
}

// Tokenize splits text into lowercase word tokens, dropping punctuation
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '\'')
	})
}

func matchFamily(lowered string, families []Family) (string, bool) {
	for _, family := range families {
		for _, trigger := range family.Triggers {
			if strings.Contains(lowered, trigger) {
				return family.Value, true
			}
		}
	}
	return "", false
}

// Extract derives a QueryAnalysis from raw text and request context. Pure
// apart from the embedding call; identical input yields identical output.
// Embedding failure fails the whole extraction.
func Extract(ctx context.Context, text string, requestContext map[string]string, embedder embeddings.Embedder) (*QueryAnalysis, error) {
	cleaned := strings.TrimSpace(text)
	// Lowercased view is for matching only; the original casing survives in
	// RawText and CleanedText for downstream rendering.
	lowered := strings.ToLower(cleaned)

	analysis := &QueryAnalysis{
		RawText:     text,
		CleanedText: cleaned,
		Intent:      IntentGeneral,
		Complexity:  ComplexityIntermediate,
	}

	// Explicit /commands, order preserved, duplicates allowed
	for _, m := range commandPattern.FindAllStringSubmatch(cleaned, -1) {
		analysis.Commands = append(analysis.Commands, strings.ToLower(m[1]))
	}

	if v, ok := matchFamily(lowered, IntentFamilies); ok {
		analysis.Intent = Intent(v)
	}
	if v, ok := matchFamily(lowered, FormatFamilies); ok {
		analysis.Format = OutputFormat(v)
	}
	if v, ok := matchFamily(lowered, ToneFamilies); ok {
		analysis.Tone = Tone(v)
	}
	if v, ok := matchFamily(lowered, ComplexityFamilies); ok {
		analysis.Complexity = Complexity(v)
	}

	constraints := make(map[string]bool)
	for _, family := range ConstraintFamilies {
		for _, trigger := range family.Triggers {
			if strings.Contains(lowered, trigger) {
				constraints[family.Value] = true
				break
			}
		}
	}
	// Callers may force constraints through the request context
	if v, ok := requestContext["constraints"]; ok {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				constraints[c] = true
			}
		}
	}
	for c := range constraints {
		analysis.Constraints = append(analysis.Constraints, c)
	}
	sort.Strings(analysis.Constraints)

	analysis.Confidence = confidence(analysis)

	vec, err := embedder.Embed(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("signal extraction: %w", err)
	}
	analysis.Embedding = vec

	return analysis, nil
}

// confidence grows with the number of explicit signals found
func confidence(a *QueryAnalysis) float64 {
	score := 0.5
	if a.Intent != IntentGeneral {
		score += 0.15
	}
	if a.Format != FormatNone {
		score += 0.1
	}
	if a.Tone != ToneNone {
		score += 0.05
	}
	if len(a.Constraints) > 0 {
		score += 0.1
	}
	if len(a.Commands) > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
