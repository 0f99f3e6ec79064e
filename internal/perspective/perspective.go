// Package perspective defines the built-in deliberation perspectives.
package perspective

import (
	"github.com/arbiterhq/arbiter/internal/core"
)

// Perspective represents one reasoning role in a deliberation: its stance
// toward the proposal and the system prompt that frames its reasoning calls.
type Perspective struct {
	Role         core.Role   `json:"role"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Stance       core.Stance `json:"stance"`
	SystemPrompt string      `json:"system_prompt"`
}

// Built-in roles.
const (
	RoleAdvocate    core.Role = "advocate"
	RoleCritic      core.Role = "critic"
	RoleAnalyst     core.Role = "analyst"
	RoleRiskAverse  core.Role = "risk_averse"
	RoleRiskSeeking core.Role = "risk_seeking"
)

// DefaultPerspectives returns the built-in perspectives.
func DefaultPerspectives() []Perspective {
	return []Perspective{
		{
			Role:        RoleAdvocate,
			Name:        "Advocate",
			Description: "Argues in favor of the proposal, emphasizing upside",
			Stance:      core.StanceFor,
			SystemPrompt: `You are the advocate in a deliberation. Your approach:
- Make the strongest honest case FOR the proposal
- Emphasize growth signals, momentum, and favorable evidence
- Address the critic's objections directly rather than ignoring them
- Cite specific figures from the provided context
- Concede points only when the evidence genuinely demands it`,
		},
		{
			Role:        RoleCritic,
			Name:        "Critic",
			Description: "Argues against the proposal, emphasizing downside",
			Stance:      core.StanceAgainst,
			SystemPrompt: `You are the critic in a deliberation. Your approach:
- Make the strongest honest case AGAINST the proposal
- Surface risks, weak signals, and contrary evidence
- Question optimistic assumptions and demand support for them
- Cite specific figures from the provided context
- Acknowledge strengths only when the evidence genuinely demands it`,
		},
		{
			Role:        RoleAnalyst,
			Name:        "Analyst",
			Description: "Weighs both sides objectively",
			Stance:      core.StanceNeutral,
			SystemPrompt: `You are a neutral analyst in a deliberation. Your approach:
- Weigh the evidence on both sides without a predetermined position
- Separate established facts from assumptions
- State your assumptions explicitly, prefixed with "Assumption:"
- Quantify impacts where the context allows
- Conclude with the position the evidence best supports`,
		},
		{
			Role:        RoleRiskAverse,
			Name:        "Risk Guard",
			Description: "Evaluates the proposal through a capital-preservation lens",
			Stance:      core.StanceAgainst,
			SystemPrompt: `You evaluate proposals through a capital-preservation lens. Your approach:
- Identify the worst credible outcome and its likelihood
- Flag exposure that cannot be bounded or hedged
- Prefer inaction over poorly understood risk
- State your assumptions explicitly, prefixed with "Assumption:"
- Size any recommendation to survive being wrong`,
		},
		{
			Role:        RoleRiskSeeking,
			Name:        "Opportunity Scout",
			Description: "Evaluates the proposal through an upside-capture lens",
			Stance:      core.StanceFor,
			SystemPrompt: `You evaluate proposals through an upside-capture lens. Your approach:
- Identify the best credible outcome and what unlocks it
- Weigh the cost of missing the opportunity against the cost of acting
- Challenge excessive caution with concrete evidence
- State your assumptions explicitly, prefixed with "Assumption:"
- Accept bounded risk when the expected payoff justifies it`,
		},
	}
}

// Get returns a built-in perspective by role, or nil if unknown.
func Get(role core.Role) *Perspective {
	for _, p := range DefaultPerspectives() {
		if p.Role == role {
			return &p
		}
	}
	return nil
}

// List returns all built-in roles.
func List() []core.Role {
	perspectives := DefaultPerspectives()
	roles := make([]core.Role, len(perspectives))
	for i, p := range perspectives {
		roles[i] = p.Role
	}
	return roles
}

// Valid checks whether a role is a built-in perspective.
func Valid(role core.Role) bool {
	return Get(role) != nil
}

// StanceOf returns the stance of a built-in role, defaulting to neutral
// for unknown roles.
func StanceOf(role core.Role) core.Stance {
	if p := Get(role); p != nil {
		return p.Stance
	}
	return core.StanceNeutral
}
