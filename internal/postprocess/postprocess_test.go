package postprocess

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/promptforge-ai/demon-engine/internal/signals"
)

func analysisWith(format signals.OutputFormat, constraints ...string) *signals.QueryAnalysis {
	return &signals.QueryAnalysis{
		RawText:     "test query about things",
		CleanedText: "test query about things",
		Intent:      signals.IntentGeneral,
		Complexity:  signals.ComplexityIntermediate,
		Format:      format,
		Constraints: constraints,
	}
}

func TestProcessStripsFences(t *testing.T) {
	raw := "```json\n{\"things\": [\"test\", \"query\"]}\n```"
	got := Process(raw, analysisWith(signals.FormatJSON))
	if got != `{"things": ["test", "query"]}` {
		t.Errorf("Process = %q, want fences stripped", got)
	}
}

func TestProcessJSONWrapsPlainText(t *testing.T) {
	got := Process("hello world", analysisWith(signals.FormatJSON))

	var wrapped map[string]string
	if err := json.Unmarshal([]byte(got), &wrapped); err != nil {
		t.Fatalf("wrapped output is not valid JSON: %v", err)
	}
	if wrapped["response"] != "hello world" || wrapped["format"] != "text" {
		t.Errorf("wrapped = %v, want response/format fields", wrapped)
	}

	if DetectFormat(got) != signals.FormatJSON {
		t.Errorf("detected format = %s after wrap", DetectFormat(got))
	}
}

func TestProcessJSONSalvagesBalancedSpan(t *testing.T) {
	raw := `Sure! Here is your data: {"a": {"b": 2}, "c": "with } brace"} hope that helps`
	got := Process(raw, analysisWith(signals.FormatJSON))
	want := `{"a": {"b": 2}, "c": "with } brace"}`
	if got != want {
		t.Errorf("salvaged = %q, want %q", got, want)
	}
}

func TestProcessMarkdownHeaders(t *testing.T) {
	raw := "#Title\n##Sub\n### Already fine\ntext"
	got := Process(raw, analysisWith(signals.FormatMarkdown))
	if !strings.Contains(got, "# Title") || !strings.Contains(got, "## Sub") {
		t.Errorf("headers not fixed: %q", got)
	}
	if strings.Contains(got, "###  Already") {
		t.Errorf("already-spaced header was double-spaced: %q", got)
	}
}

func TestProcessListBullets(t *testing.T) {
	raw := "first point\n- already bulleted\n2. numbered\n\nlast point"
	got := Process(raw, analysisWith(signals.FormatList))
	lines := strings.Split(got, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !alreadyBulleted(trimmed) {
			t.Errorf("line %q is not bulleted", line)
		}
	}
}

func TestProcessConciseStripsFiller(t *testing.T) {
	raw := "It's worth noting that the answer is 42. I hope this helps"
	got := Process(raw, analysisWith(signals.FormatNone, signals.ConstraintConcise))
	if strings.Contains(strings.ToLower(got), "worth noting") {
		t.Errorf("filler survived: %q", got)
	}
	if !strings.Contains(got, "the answer is 42") {
		t.Errorf("content lost while stripping filler: %q", got)
	}
}

func TestProcessConciseFillerUnicodeSafe(t *testing.T) {
	// Runes whose case pair differs in byte length must not shift the
	// removal offsets or split a multi-byte sequence
	cases := []struct {
		in   string
		want string
	}{
		{"İin order to", "İ"},
		{"Ⱥin order to", "Ⱥ"},
		{"naïve, In Order To summarize", "naïve, summarize"},
	}
	for _, c := range cases {
		got := Process(c.in, analysisWith(signals.FormatNone, signals.ConstraintConcise))
		if got != c.want {
			t.Errorf("Process(%q) = %q, want %q", c.in, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Process(%q) produced invalid UTF-8: %q", c.in, got)
		}
	}
}

func TestProcessValidateRoundTrip(t *testing.T) {
	// Output that already satisfies every requested constraint passes
	// through process unchanged and validates cleanly
	analysis := analysisWith(signals.FormatJSON)
	raw := `{"test": "query", "about": "things"}`

	processed := Process(raw, analysis)
	if processed != raw {
		t.Errorf("process was not a no-op on conforming output: %q", processed)
	}

	passed, errs := Validate(processed, analysis)
	if !passed || len(errs) != 0 {
		t.Errorf("validate = %v, %v; want clean pass", passed, errs)
	}
}

func TestValidateRunsAllChecks(t *testing.T) {
	analysis := analysisWith(signals.FormatJSON, signals.ConstraintConcise)
	// Not JSON, over the concise ceiling, and irrelevant to the query
	output := strings.Repeat("unrelated words entirely ", 60)

	passed, errs := Validate(output, analysis)
	if passed {
		t.Fatal("validation passed on a violating output")
	}
	if len(errs) < 3 {
		t.Errorf("got %d validation errors, want all checks reported: %v", len(errs), errs)
	}
}

func TestValidateDetailedFloor(t *testing.T) {
	analysis := analysisWith(signals.FormatNone, signals.ConstraintDetailed)
	passed, errs := Validate("test query about things, briefly", analysis)
	if passed {
		t.Fatal("short output passed under the detailed constraint")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "detailed floor") {
			found = true
		}
	}
	if !found {
		t.Errorf("no detail-floor error in %v", errs)
	}
}

func TestPlainTextWrappedWhenJSONRequested(t *testing.T) {
	analysis := analysisWith(signals.FormatJSON)

	processed := Process("hello world", analysis)
	want := `{"format":"text","response":"hello world"}`
	if processed != want {
		t.Errorf("processed = %q, want %q", processed, want)
	}

	// The wrapper is valid JSON but still a format miss; validation of the
	// processed output must report it
	passed, errs := Validate(processed, analysis)
	if passed {
		t.Fatal("wrapped non-JSON output passed validation under json format")
	}
	foundFormat := false
	for _, e := range errs {
		if strings.Contains(e, "JSON") {
			foundFormat = true
		}
	}
	if !foundFormat {
		t.Errorf("no JSON format error in %v", errs)
	}

	// And the fidelity score carries the format-mismatch penalty
	conforming := Score(`{"test": "query", "about": "things"}`, analysis)
	wrapped := Score(`{"format":"text","response":"test query about things"}`, analysis)
	if conforming-wrapped < 0.25 {
		t.Errorf("wrapped score %v too close to conforming %v, want format penalty applied", wrapped, conforming)
	}
}

func TestValidateAcceptsGenuineTwoFieldJSON(t *testing.T) {
	// An object that merely resembles the wrapper shape is not flagged
	analysis := analysisWith(signals.FormatJSON)
	passed, errs := Validate(`{"format": "json", "response": "test query about things"}`, analysis)
	if !passed {
		t.Errorf("genuine JSON object flagged as wrapped text: %v", errs)
	}
}

func TestScoreMonotonicNonIncreasing(t *testing.T) {
	// Each added violation can only lower the fidelity score
	conforming := `{"test": "query", "about": "things"}`
	base := Score(conforming, analysisWith(signals.FormatJSON))

	oneViolation := Score("not json but test query about things", analysisWith(signals.FormatJSON))
	if oneViolation > base {
		t.Errorf("score rose with a format violation: %v > %v", oneViolation, base)
	}

	twoViolations := Score(
		"not json but test query about things "+strings.Repeat("padding ", 300),
		analysisWith(signals.FormatJSON, signals.ConstraintConcise),
	)
	if twoViolations > oneViolation {
		t.Errorf("score rose with an extra violation: %v > %v", twoViolations, oneViolation)
	}
}

func TestScoreClampedToZero(t *testing.T) {
	analysis := analysisWith(signals.FormatJSON, signals.ConstraintConcise, signals.ConstraintDetailed)
	if got := Score("x", analysis); got < 0 {
		t.Errorf("score = %v, want clamped at 0", got)
	}
}

func TestScorePerfectOutput(t *testing.T) {
	analysis := analysisWith(signals.FormatJSON)
	if got := Score(`{"test": "query", "about": "things"}`, analysis); got != 1.0 {
		t.Errorf("score = %v, want 1.0 for conforming output", got)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		in   string
		want signals.OutputFormat
	}{
		{`{"a": 1}`, signals.FormatJSON},
		{"- one\n- two", signals.FormatList},
		{"# Title\nbody", signals.FormatMarkdown},
		{"plain prose here", signals.FormatNone},
	}
	for _, c := range cases {
		if got := DetectFormat(c.in); got != c.want {
			t.Errorf("DetectFormat(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}
