package contracts

import (
	"fmt"

	"github.com/promptforge-ai/demon-engine/internal/flags"
)

// ProRequiredError is raised when a pro-only surface is hit by a non-pro
// plan. It must propagate to the caller, never be converted into a fallback.
type ProRequiredError struct {
	Surface Surface
	Plan    string
}

// Error implements error
func (e *ProRequiredError) Error() string {
	return fmt.Sprintf("surface %s requires a pro plan, caller plan is %q", e.Surface, e.Plan)
}

// FallbackReason classifies why a gate produced a fallback instead of
// running the pipeline
type FallbackReason string

const (
	FallbackKillSwitch  FallbackReason = "kill_switch"
	FallbackRateLimited FallbackReason = "rate_limited"
)

// Fallback is a well-formed degraded response returned when a gate trips.
// The caller gets this instead of an error so the surface never hangs.
type Fallback struct {
	Reason  FallbackReason `json:"reason"`
	Message string         `json:"message"`
}

// Gatekeeper runs the pre-adapter gates: kill switch, rate limit, pro plan
type Gatekeeper struct {
	flags   flags.Provider
	proOnly map[Surface]bool
}

// NewGatekeeper creates a gatekeeper. proOnly lists the surfaces restricted
// to pro-plan callers.
func NewGatekeeper(provider flags.Provider, proOnly ...Surface) *Gatekeeper {
	restricted := make(map[Surface]bool, len(proOnly))
	for _, s := range proOnly {
		restricted[s] = true
	}
	return &Gatekeeper{flags: provider, proOnly: restricted}
}

// killSwitchFeature names the flag guarding a surface
func killSwitchFeature(surface Surface) string {
	return "contract." + string(surface)
}

// Check runs the gates in order. A tripped kill switch or exhausted rate
// limit returns a Fallback with a nil error; a plan violation returns a
// ProRequiredError. A nil, nil return means the request may proceed.
func (g *Gatekeeper) Check(surface Surface, client, plan string) (*Fallback, error) {
	if g.flags.KillSwitchActive(killSwitchFeature(surface)) {
		return &Fallback{
			Reason:  FallbackKillSwitch,
			Message: fmt.Sprintf("the %s surface is temporarily disabled, please retry later", surface),
		}, nil
	}

	if !g.flags.AllowRequest(string(surface), client) {
		return &Fallback{
			Reason:  FallbackRateLimited,
			Message: fmt.Sprintf("rate limit exceeded for the %s surface, please slow down", surface),
		}, nil
	}

	if g.proOnly[surface] && plan != "pro" {
		return nil, &ProRequiredError{Surface: surface, Plan: plan}
	}

	return nil, nil
}
