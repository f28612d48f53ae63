// Package contracts reshapes a generic pipeline result into the per-surface
// output contracts (web, editor, agent) and enforces the gates that guard
// each surface.
package contracts

import (
	"fmt"
	"strings"
)

// Surface names a calling surface with its own output contract
type Surface string

const (
	SurfaceWeb    Surface = "web"
	SurfaceEditor Surface = "editor"
	SurfaceAgent  Surface = "agent"
)

// Minimum shape requirements
const (
	minEditorSteps    = 3
	minEditorCriteria = 3
	minAgentSteps     = 3
)

// Section is one titled block of a web contract
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// WebContract decomposes output into at least one titled section
type WebContract struct {
	Sections []Section `json:"sections"`
}

// EditorContract carries imperative steps plus acceptance criteria
type EditorContract struct {
	Steps              []string `json:"steps"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// AgentContract carries ordered steps plus explicit constraint and
// stop-condition lists. The lists may be empty but are always present.
type AgentContract struct {
	Steps          []string `json:"steps"`
	Constraints    []string `json:"constraints"`
	StopConditions []string `json:"stop_conditions"`
}

// Result is the adapted output for one surface. Exactly one of the contract
// fields is set, matching Surface. Breach is a soft failure: the result is
// still returned, flagged with the reason the minimum shape was missed.
type Result struct {
	Surface      Surface         `json:"surface"`
	Web          *WebContract    `json:"web,omitempty"`
	Editor       *EditorContract `json:"editor,omitempty"`
	Agent        *AgentContract  `json:"agent,omitempty"`
	Breach       bool            `json:"contract_breach"`
	BreachReason string          `json:"breach_reason,omitempty"`
}

// Adapt reshapes processed output for the given surface
func Adapt(surface Surface, processed string) (*Result, error) {
	switch surface {
	case SurfaceWeb:
		return adaptWeb(processed), nil
	case SurfaceEditor:
		return adaptEditor(processed), nil
	case SurfaceAgent:
		return adaptAgent(processed), nil
	default:
		return nil, fmt.Errorf("unknown contract surface: %s", surface)
	}
}

// adaptWeb extracts markdown-titled sections, falling back to blank-line
// splitting with synthesized titles. A web contract can always be met as
// long as any text exists.
func adaptWeb(processed string) *Result {
	sections := markdownSections(processed)
	if len(sections) == 0 {
		for i, block := range splitBlocks(processed) {
			sections = append(sections, Section{
				Title: fmt.Sprintf("Part %d", i+1),
				Body:  block,
			})
		}
	}
	result := &Result{Surface: SurfaceWeb, Web: &WebContract{Sections: sections}}
	if len(sections) == 0 {
		result.Breach = true
		result.BreachReason = "output is empty, no sections could be formed"
	}
	return result
}

// adaptEditor extracts imperative steps and acceptance criteria from the
// output's lines, flagging a breach when the minimum counts are not met
func adaptEditor(processed string) *Result {
	var steps, criteria []string
	for _, line := range strings.Split(processed, "\n") {
		item, ok := listItem(line)
		if !ok {
			continue
		}
		switch {
		case isAcceptanceCriterion(item):
			criteria = append(criteria, item)
		case startsWithImperative(item):
			steps = append(steps, item)
		}
	}

	result := &Result{
		Surface: SurfaceEditor,
		Editor:  &EditorContract{Steps: steps, AcceptanceCriteria: criteria},
	}
	switch {
	case len(steps) < minEditorSteps:
		result.Breach = true
		result.BreachReason = fmt.Sprintf("editor contract needs at least %d imperative steps, extracted %d", minEditorSteps, len(steps))
	case len(criteria) < minEditorCriteria:
		result.Breach = true
		result.BreachReason = fmt.Sprintf("editor contract needs at least %d acceptance criteria, extracted %d", minEditorCriteria, len(criteria))
	}
	return result
}

// adaptAgent extracts ordered steps plus constraint and stop-condition lines.
// Constraint and stop-condition lists are always present even when empty.
func adaptAgent(processed string) *Result {
	steps := []string{}
	constraints := []string{}
	stopConditions := []string{}

	for _, line := range strings.Split(processed, "\n") {
		item, ok := listItem(line)
		if !ok {
			continue
		}
		lowered := strings.ToLower(item)
		switch {
		case strings.HasPrefix(lowered, "constraint:") || strings.Contains(lowered, "must not") || strings.HasPrefix(lowered, "do not"):
			constraints = append(constraints, item)
		case strings.HasPrefix(lowered, "stop ") || strings.Contains(lowered, "stop when") || strings.Contains(lowered, "stop if") || strings.HasPrefix(lowered, "halt"):
			stopConditions = append(stopConditions, item)
		default:
			steps = append(steps, item)
		}
	}

	result := &Result{
		Surface: SurfaceAgent,
		Agent: &AgentContract{
			Steps:          steps,
			Constraints:    constraints,
			StopConditions: stopConditions,
		},
	}
	if len(steps) < minAgentSteps {
		result.Breach = true
		result.BreachReason = fmt.Sprintf("agent contract needs at least %d ordered steps, extracted %d", minAgentSteps, len(steps))
	}
	return result
}

// markdownSections splits on # header lines
func markdownSections(text string) []Section {
	var sections []Section
	var current *Section
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if current != nil && strings.TrimSpace(current.Body) != "" {
				current.Body = strings.TrimSpace(current.Body)
				sections = append(sections, *current)
			}
			current = &Section{Title: strings.TrimSpace(strings.TrimLeft(trimmed, "# "))}
			continue
		}
		if current != nil {
			current.Body += line + "\n"
		}
	}
	if current != nil && strings.TrimSpace(current.Body) != "" {
		current.Body = strings.TrimSpace(current.Body)
		sections = append(sections, *current)
	}
	return sections
}

// splitBlocks splits text on blank-line boundaries
func splitBlocks(text string) []string {
	var blocks []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// listItem strips a bullet or number prefix, reporting whether the line was
// a list entry or plain non-empty text
func listItem(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
		return strings.TrimSpace(trimmed[i+1:]), true
	}
	return trimmed, true
}

// imperativeVerbs lead actionable step lines
var imperativeVerbs = map[string]bool{
	"add": true, "apply": true, "build": true, "change": true, "check": true,
	"configure": true, "create": true, "define": true, "delete": true,
	"deploy": true, "ensure": true, "extract": true, "fix": true,
	"implement": true, "install": true, "merge": true, "move": true,
	"open": true, "refactor": true, "remove": true, "rename": true,
	"replace": true, "run": true, "set": true, "test": true, "update": true,
	"use": true, "validate": true, "verify": true, "write": true,
}

func startsWithImperative(item string) bool {
	fields := strings.Fields(strings.ToLower(item))
	return len(fields) > 0 && imperativeVerbs[fields[0]]
}

func isAcceptanceCriterion(item string) bool {
	lowered := strings.ToLower(item)
	return strings.Contains(lowered, "should") ||
		strings.Contains(lowered, "must") ||
		strings.HasPrefix(lowered, "given ") ||
		strings.HasPrefix(lowered, "when ") ||
		strings.Contains(lowered, "passes") ||
		strings.Contains(lowered, "criteria")
}
