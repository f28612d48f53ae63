// Package postprocess reshapes raw model output to the requested format,
// validates it against the request's constraints, and scores fidelity.
package postprocess

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/signals"
)

// Validation thresholds
const (
	ConciseCeiling   = 1000 // max chars when "concise" is requested
	DetailedFloor    = 200  // min chars when "detailed" is requested
	RelevanceMinimum = 0.10 // query-token overlap ratio below which relevance is flagged
)

// FillerPhrases are stripped from output under the "concise" constraint.
// The list is fixed and exported so callers can document the exact behavior.
var FillerPhrases = []string{
	"it's worth noting that",
	"it is worth noting that",
	"it should be noted that",
	"as you may know,",
	"needless to say,",
	"at the end of the day,",
	"in order to",
	"basically,",
	"essentially,",
	"to be honest,",
	"i hope this helps",
	"let me know if you have any questions",
	"certainly!",
	"of course!",
}

// Process normalizes raw model output into the requested shape. It never
// errors; unparseable JSON degrades to a wrapped text object rather than
// failing the request.
func Process(raw string, analysis *signals.QueryAnalysis) string {
	text := stripFences(strings.TrimSpace(raw))

	switch analysis.Format {
	case signals.FormatJSON:
		text = coerceJSON(text)
	case signals.FormatMarkdown:
		text = fixMarkdownHeaders(text)
	case signals.FormatList:
		text = bulletLines(text)
	}

	if analysis.HasConstraint(signals.ConstraintConcise) {
		text = stripFiller(text)
	}

	return strings.TrimSpace(text)
}

// stripFences removes a leading and trailing fenced code block marker pair,
// keeping the fenced content
func stripFences(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[0], "```") && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return text
}

// coerceJSON returns valid JSON text. Strict parse first, then the first
// balanced brace span, then a wrapper object carrying the raw text.
func coerceJSON(text string) string {
	if json.Valid([]byte(text)) {
		return text
	}
	if span, ok := balancedBraceSpan(text); ok && json.Valid([]byte(span)) {
		return span
	}
	wrapped, err := json.Marshal(map[string]string{"response": text, "format": "text"})
	if err != nil {
		// Marshal of a string map cannot fail in practice
		return fmt.Sprintf(`{"response": %q, "format": "text"}`, text)
	}
	return string(wrapped)
}

// balancedBraceSpan extracts the first balanced {...} span, tracking string
// literals so braces inside them don't count
func balancedBraceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// fixMarkdownHeaders ensures every header line has a space after its # run
func fixMarkdownHeaders(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, "#")
		hashes := len(line) - len(trimmed)
		if hashes > 0 && hashes <= 6 && trimmed != "" && !strings.HasPrefix(trimmed, " ") {
			lines[i] = line[:hashes] + " " + trimmed
		}
	}
	return strings.Join(lines, "\n")
}

// bulletLines prefixes every non-empty line with a bullet, leaving lines that
// already carry a bullet or number untouched
func bulletLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || alreadyBulleted(trimmed) {
			continue
		}
		lines[i] = "- " + trimmed
	}
	return strings.Join(lines, "\n")
}

func alreadyBulleted(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	// Numbered list entries like "3." or "12)" count as bulleted
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

// stripFiller removes the fixed filler-phrase list, case-insensitively.
// Offsets are found on the original string; lowering a copy first would
// misalign them for runes whose case pair differs in byte length.
func stripFiller(text string) string {
	for _, phrase := range FillerPhrases {
		for {
			idx := asciiFoldIndex(text, phrase)
			if idx < 0 {
				break
			}
			text = text[:idx] + text[idx+len(phrase):]
		}
	}
	// Collapse the double spaces phrase removal leaves behind
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return strings.TrimSpace(text)
}

// asciiFoldIndex returns the byte offset of the first ASCII-case-insensitive
// occurrence of phrase in text, or -1. Phrases are all-ASCII, so matched
// spans always fall on rune boundaries of the original text.
func asciiFoldIndex(text, phrase string) int {
	if len(phrase) == 0 || len(text) < len(phrase) {
		return -1
	}
	for i := 0; i+len(phrase) <= len(text); i++ {
		if asciiFoldMatch(text[i:i+len(phrase)], phrase) {
			return i
		}
	}
	return -1
}

func asciiFoldMatch(window, phrase string) bool {
	for i := 0; i < len(phrase); i++ {
		c := window[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != phrase[i] {
			return false
		}
	}
	return true
}

// Validate runs every applicable check and collects a distinct error string
// per failure. All checks run; an early failure never short-circuits the
// rest. Passed is true only when no check failed.
func Validate(processed string, analysis *signals.QueryAnalysis) (bool, []string) {
	var errs []string

	if analysis.Format == signals.FormatJSON {
		if !json.Valid([]byte(processed)) {
			errs = append(errs, "output is not well-formed JSON despite json format request")
		} else if isWrappedText(processed) {
			errs = append(errs, "model output was not JSON and was wrapped as a text object")
		}
	}
	if analysis.HasConstraint(signals.ConstraintConcise) && len(processed) > ConciseCeiling {
		errs = append(errs, fmt.Sprintf("output length %d exceeds concise ceiling %d", len(processed), ConciseCeiling))
	}
	if analysis.HasConstraint(signals.ConstraintDetailed) && len(processed) < DetailedFloor {
		errs = append(errs, fmt.Sprintf("output length %d below detailed floor %d", len(processed), DetailedFloor))
	}
	if ratio := overlapRatio(analysis.Tokens(), processed); ratio < RelevanceMinimum {
		errs = append(errs, fmt.Sprintf("query-output lexical overlap %.0f%% below %.0f%% relevance minimum", ratio*100, RelevanceMinimum*100))
	}

	return len(errs) == 0, errs
}

// isWrappedText reports whether processed is exactly the wrapper object
// coerceJSON produces when the model's output was not JSON. Such output is
// parseable but did not honor the json format request.
func isWrappedText(processed string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(processed), &fields); err != nil || len(fields) != 2 {
		return false
	}
	var format string
	if err := json.Unmarshal(fields["format"], &format); err != nil || format != "text" {
		return false
	}
	var response string
	return json.Unmarshal(fields["response"], &response) == nil
}

// overlapRatio is the fraction of distinct query tokens present in the output
func overlapRatio(queryTokens []string, output string) float64 {
	if len(queryTokens) == 0 {
		return 1.0
	}
	outputSet := make(map[string]bool)
	for _, tok := range signals.Tokenize(output) {
		outputSet[tok] = true
	}
	distinct := make(map[string]bool)
	matched := 0
	for _, tok := range queryTokens {
		if distinct[tok] {
			continue
		}
		distinct[tok] = true
		if outputSet[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct))
}

// Fidelity penalty schedule
const (
	penaltyFormatMismatch = 0.3
	penaltyListMismatch   = 0.2
)

// Score computes a fidelity score in [0,1]. Starts at 1.0 and subtracts a
// fixed penalty per shortfall, with severity scaling for length and
// relevance misses.
func Score(processed string, analysis *signals.QueryAnalysis) float64 {
	score := 1.0

	if analysis.Format == signals.FormatJSON && (!json.Valid([]byte(processed)) || isWrappedText(processed)) {
		score -= penaltyFormatMismatch
	}
	if analysis.Format == signals.FormatList && !listShaped(processed) {
		score -= penaltyListMismatch
	}

	if analysis.HasConstraint(signals.ConstraintConcise) && len(processed) > ConciseCeiling {
		// Up to double over the ceiling costs 0.1, worse costs 0.2
		if len(processed) > 2*ConciseCeiling {
			score -= 0.2
		} else {
			score -= 0.1
		}
	}
	if analysis.HasConstraint(signals.ConstraintDetailed) && len(processed) < DetailedFloor {
		switch {
		case len(processed) < DetailedFloor/4:
			score -= 0.3
		case len(processed) < DetailedFloor/2:
			score -= 0.2
		default:
			score -= 0.1
		}
	}

	switch ratio := overlapRatio(analysis.Tokens(), processed); {
	case ratio < RelevanceMinimum/2:
		score -= 0.3
	case ratio < RelevanceMinimum:
		score -= 0.2
	case ratio < 2*RelevanceMinimum:
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	return score
}

// listShaped reports whether every non-empty line is bulleted or numbered
func listShaped(text string) bool {
	any := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !alreadyBulleted(trimmed) {
			return false
		}
		any = true
	}
	return any
}

// DetectFormat classifies the processed output's actual shape for the
// execution record
func DetectFormat(processed string) signals.OutputFormat {
	trimmed := strings.TrimSpace(processed)
	if json.Valid([]byte(trimmed)) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		return signals.FormatJSON
	}
	if listShaped(trimmed) {
		return signals.FormatList
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return signals.FormatMarkdown
		}
	}
	return signals.FormatNone
}
