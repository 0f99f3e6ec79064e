// Package core contains the core domain types for arbiter.
package core

import (
	"strings"
	"time"
)

// Domain identifies one information domain in a deliberation session.
type Domain string

const (
	DomainMarket       Domain = "market"
	DomainNews         Domain = "news"
	DomainSocial       Domain = "social"
	DomainFundamentals Domain = "fundamentals"
	DomainMacro        Domain = "macro"
)

// AllDomains lists every known domain in canonical order.
var AllDomains = []Domain{
	DomainMarket,
	DomainNews,
	DomainSocial,
	DomainFundamentals,
	DomainMacro,
}

// DomainReport is one raw analysis report for a domain. Reports are
// immutable once published to the analysis store.
type DomainReport struct {
	Domain     Domain    `json:"domain"`
	Content    string    `json:"content"`
	ProducedAt time.Time `json:"produced_at"`
	Version    int       `json:"version"`
}

// Role identifies one perspective in a deliberation (e.g., advocate, critic).
type Role string

// Stance is the reasoning orientation a role applies to shared information.
type Stance string

const (
	StanceFor     Stance = "for"
	StanceAgainst Stance = "against"
	StanceNeutral Stance = "neutral"
)

// TokenBudget caps the size of a role's derived context view.
type TokenBudget struct {
	Role     Role `json:"role" yaml:"role"`
	MaxUnits int  `json:"max_units" yaml:"max_units"`
}

// Section is one labeled block of text inside a context view.
type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// ContextView is a derived, role-specific, size-bounded projection of the
// shared analysis store.
type ContextView struct {
	Role      Role      `json:"role"`
	Version   int       `json:"version"`
	Sections  []Section `json:"sections"`
	Partial   bool      `json:"partial"`   // a relevant domain report was missing
	Truncated bool      `json:"truncated"` // budget enforcement cut content
}

// Size returns the view's size in budget units. One unit is one
// whitespace-separated token across all section texts.
func (v *ContextView) Size() int {
	total := 0
	for _, s := range v.Sections {
		total += CountUnits(s.Text)
	}
	return total
}

// CountUnits returns the budget-unit count of a text.
func CountUnits(text string) int {
	return len(strings.Fields(text))
}

// ErrorKind classifies a failed perspective invocation.
type ErrorKind string

const (
	ErrKindNone        ErrorKind = ""
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindMalformed   ErrorKind = "malformed_output"
	ErrKindUnavailable ErrorKind = "unavailable"
	ErrKindCancelled   ErrorKind = "cancelled"
)

// PerspectiveResult is the outcome of a single worker invocation.
type PerspectiveResult struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	Succeeded bool      `json:"succeeded"`
	ErrKind   ErrorKind `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DebateRound is one synchronized batch of perspective results.
type DebateRound struct {
	Index   int                 `json:"index"`
	Results []PerspectiveResult `json:"results"`
}

// Succeeded returns the results in this round that completed successfully.
func (r DebateRound) Succeeded() []PerspectiveResult {
	out := make([]PerspectiveResult, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Succeeded {
			out = append(out, res)
		}
	}
	return out
}

// Transcript is the ordered record of all executed debate rounds.
// It grows monotonically during a session and is never rewritten.
type Transcript struct {
	Rounds []DebateRound `json:"rounds"`
}

// Append adds a completed round to the transcript.
func (t *Transcript) Append(round DebateRound) {
	t.Rounds = append(t.Rounds, round)
}

// LastRound returns the most recent round, or nil if none executed yet.
func (t *Transcript) LastRound() *DebateRound {
	if len(t.Rounds) == 0 {
		return nil
	}
	return &t.Rounds[len(t.Rounds)-1]
}

// ConsensusType classifies the degree of agreement among perspectives.
type ConsensusType string

const (
	ConsensusStrong      ConsensusType = "strong"
	ConsensusOperational ConsensusType = "operational"
	ConsensusPartial     ConsensusType = "partial"
	ConsensusNone        ConsensusType = "none"
)

// ConsensusAssessment is the detector's view of the transcript after a round.
type ConsensusAssessment struct {
	Type           ConsensusType `json:"type"`
	AgreementScore float64       `json:"agreement_score"`
	DissentPoints  []string      `json:"dissent_points,omitempty"`
}

// Action is the terminal recommendation of a session.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionHold Action = "hold"
	ActionSell Action = "sell"
	ActionNone Action = "no_action"
)

// Decision is the terminal artifact of a deliberation session.
// Produced exactly once; immutable.
type Decision struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Action        Action    `json:"action"`
	Confidence    float64   `json:"confidence"`
	Sizing        float64   `json:"sizing"`
	Rationale     string    `json:"rationale"`
	ExpectedValue float64   `json:"expected_value"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionStatus represents the lifecycle state of a deliberation session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Session represents one deliberation over a proposal.
type Session struct {
	ID          string               `json:"id"`
	Proposal    string               `json:"proposal"`
	Roles       []Role               `json:"roles"`
	Status      SessionStatus        `json:"status"`
	Analysis    []PerspectiveResult  `json:"analysis,omitempty"`
	Transcript  Transcript           `json:"transcript"`
	Assessment  *ConsensusAssessment `json:"assessment,omitempty"`
	Decision    *Decision            `json:"decision,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// SessionSummary is a lightweight representation for listing sessions.
type SessionSummary struct {
	ID         string        `json:"id"`
	Proposal   string        `json:"proposal"`
	Status     SessionStatus `json:"status"`
	RoleCount  int           `json:"role_count"`
	RoundCount int           `json:"round_count"`
	Action     Action        `json:"action,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
