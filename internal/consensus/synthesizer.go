package consensus

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/core"
)

// QualityWeights combine the argument-quality sub-scores. The source
// material gives conflicting splits; these are configuration, not constants.
type QualityWeights struct {
	Evidence    float64 `yaml:"evidence"`
	Consistency float64 `yaml:"consistency"`
	Rebuttal    float64 `yaml:"rebuttal"`
}

// DefaultQualityWeights returns the 0.4/0.3/0.3 split.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Evidence: 0.4, Consistency: 0.3, Rebuttal: 0.3}
}

// Scenario is one named outcome with an estimated magnitude, e.g. best
// case +1.0, base case +0.2, worst case -1.0.
type Scenario struct {
	Name      string      `yaml:"name"`
	Magnitude float64     `yaml:"magnitude"`
	Stance    core.Stance `yaml:"stance"` // which stance supports it
}

// DefaultScenarios returns the best/base/worst model.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "best", Magnitude: 1.0, Stance: core.StanceFor},
		{Name: "base", Magnitude: 0.2, Stance: core.StanceNeutral},
		{Name: "worst", Magnitude: -1.0, Stance: core.StanceAgainst},
	}
}

// RiskParams bound the sizing of any decision.
type RiskParams struct {
	// BudgetCeiling is the hard cap on sizing; never exceeded.
	BudgetCeiling float64 `yaml:"budget_ceiling"`

	// Conservatism scales the Kelly fraction down.
	Conservatism float64 `yaml:"conservatism"`
}

// DefaultRiskParams caps sizing at 10% with half-Kelly conservatism.
func DefaultRiskParams() RiskParams {
	return RiskParams{BudgetCeiling: 0.1, Conservatism: 0.5}
}

// actionThreshold is the expected-value magnitude below which the decision
// is to hold.
const actionThreshold = 0.1

// rebuttal markers count as successful engagement with opposing claims.
var rebuttalMarkers = []string{
	"however", "but ", "contrary", "overlooks", "fails to", "that claim",
	"this ignores", "on the other hand", "despite",
}

// Synthesizer converts a concluded transcript into exactly one decision.
type Synthesizer struct {
	weights   QualityWeights
	scenarios []Scenario
	risk      RiskParams
	stanceOf  func(core.Role) core.Stance
}

// NewSynthesizer creates a synthesizer. Zero-valued weights, scenarios and
// risk parameters fall back to defaults. stanceOf maps roles to the stance
// whose scenario they support.
func NewSynthesizer(weights QualityWeights, scenarios []Scenario, risk RiskParams, stanceOf func(core.Role) core.Stance) *Synthesizer {
	if weights.Evidence == 0 && weights.Consistency == 0 && weights.Rebuttal == 0 {
		weights = DefaultQualityWeights()
	}
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if risk.BudgetCeiling == 0 {
		risk = DefaultRiskParams()
	}
	return &Synthesizer{
		weights:   weights,
		scenarios: scenarios,
		risk:      risk,
		stanceOf:  stanceOf,
	}
}

// Synthesize produces the session's decision from the transcript and its
// final assessment. It fails with SynthesisAmbiguousError only when
// agreement is classified none AND the final round lacked a usable quorum;
// the pipeline decides whether that aborts or becomes a no-action decision.
func (s *Synthesizer) Synthesize(sessionID string, t *core.Transcript, assessment core.ConsensusAssessment, quorumMinimum int) (*core.Decision, error) {
	last := t.LastRound()
	finalSucceeded := 0
	if last != nil {
		finalSucceeded = len(last.Succeeded())
	}

	if assessment.Type == core.ConsensusNone && finalSucceeded < quorumMinimum {
		return nil, &core.SynthesisAmbiguousError{
			AgreementScore: assessment.AgreementScore,
			FinalSucceeded: finalSucceeded,
		}
	}

	qualities := s.argumentQualities(t)
	probs := s.scenarioProbabilities(qualities)

	ev := 0.0
	for i, sc := range s.scenarios {
		ev += probs[i] * sc.Magnitude
	}
	variance := 0.0
	for i, sc := range s.scenarios {
		diff := sc.Magnitude - ev
		variance += probs[i] * diff * diff
	}

	sizing := s.sizing(ev, variance)
	confidence := s.confidence(assessment, qualities, t)

	action := core.ActionHold
	switch {
	case ev > actionThreshold:
		action = core.ActionBuy
	case ev < -actionThreshold:
		action = core.ActionSell
	}
	if action == core.ActionHold {
		sizing = 0
	}

	decision := &core.Decision{
		ID:            core.GenerateID(),
		SessionID:     sessionID,
		Action:        action,
		Confidence:    confidence,
		Sizing:        sizing,
		ExpectedValue: ev,
		Rationale:     s.rationale(assessment, probs, ev),
		CreatedAt:     time.Now(),
	}

	slog.Debug("Synthesized decision",
		"session", sessionID,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"sizing", decision.Sizing,
		"expected_value", decision.ExpectedValue,
	)
	return decision, nil
}

// NoActionDecision is the explicit zero-confidence fallback emitted when an
// ambiguous synthesis is configured not to abort the session.
func NoActionDecision(sessionID string, reason string) *core.Decision {
	return &core.Decision{
		ID:        core.GenerateID(),
		SessionID: sessionID,
		Action:    core.ActionNone,
		Rationale: "No actionable consensus: " + reason,
		CreatedAt: time.Now(),
	}
}

// argumentQualities scores each role's accumulated output in [0,1].
func (s *Synthesizer) argumentQualities(t *core.Transcript) map[core.Role]float64 {
	contents := make(map[core.Role][]string)
	for _, round := range t.Rounds {
		for _, r := range round.Succeeded() {
			contents[r.Role] = append(contents[r.Role], r.Content)
		}
	}

	qualities := make(map[core.Role]float64, len(contents))
	for role, texts := range contents {
		evidence := evidenceSpecificity(texts)
		consistency := internalConsistency(texts)
		rebuttal := rebuttalScore(texts)

		qualities[role] = clamp01(s.weights.Evidence*evidence +
			s.weights.Consistency*consistency +
			s.weights.Rebuttal*rebuttal)
	}
	return qualities
}

// scenarioProbabilities derives each scenario's probability from the
// quality-weighted support of the perspectives sharing its stance.
func (s *Synthesizer) scenarioProbabilities(qualities map[core.Role]float64) []float64 {
	support := make([]float64, len(s.scenarios))

	roles := make([]core.Role, 0, len(qualities))
	for role := range qualities {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	for _, role := range roles {
		stance := core.StanceNeutral
		if s.stanceOf != nil {
			stance = s.stanceOf(role)
		}
		for i, sc := range s.scenarios {
			if sc.Stance == stance {
				support[i] += qualities[role]
			}
		}
	}

	total := 0.0
	for _, v := range support {
		total += v
	}
	probs := make([]float64, len(support))
	if total == 0 {
		// No usable support signal: uniform.
		for i := range probs {
			probs[i] = 1.0 / float64(len(probs))
		}
		return probs
	}
	for i, v := range support {
		probs[i] = v / total
	}
	return probs
}

// sizing applies the Kelly criterion, scaled by the conservatism factor and
// hard-capped by the risk budget ceiling.
func (s *Synthesizer) sizing(ev, variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	kelly := ev / variance
	if kelly < 0 {
		kelly = -kelly
	}
	if kelly > 1 {
		kelly = 1
	}
	sized := kelly * s.risk.Conservatism
	if sized > s.risk.BudgetCeiling {
		sized = s.risk.BudgetCeiling
	}
	return sized
}

// confidence blends agreement with mean argument quality, discounted by the
// final round's success ratio so silent failures are never free.
func (s *Synthesizer) confidence(assessment core.ConsensusAssessment, qualities map[core.Role]float64, t *core.Transcript) float64 {
	meanQuality := 0.0
	if len(qualities) > 0 {
		for _, q := range qualities {
			meanQuality += q
		}
		meanQuality /= float64(len(qualities))
	}

	ratio := 1.0
	if last := t.LastRound(); last != nil && len(last.Results) > 0 {
		ratio = float64(len(last.Succeeded())) / float64(len(last.Results))
	}

	return clamp01((0.75*assessment.AgreementScore + 0.25*meanQuality) * ratio)
}

func (s *Synthesizer) rationale(assessment core.ConsensusAssessment, probs []float64, ev float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Consensus %s (agreement %.2f). Expected value %.2f across scenarios:",
		assessment.Type, assessment.AgreementScore, ev)
	for i, sc := range s.scenarios {
		fmt.Fprintf(&sb, " %s %.0f%%", sc.Name, probs[i]*100)
		if i < len(s.scenarios)-1 {
			sb.WriteString(",")
		}
	}
	sb.WriteString(".")
	if len(assessment.DissentPoints) > 0 {
		fmt.Fprintf(&sb, " Unresolved dissent: %s.", strings.Join(assessment.DissentPoints, "; "))
	}
	return sb.String()
}

// evidenceSpecificity is the fraction of sentences carrying a quantitative
// claim (a digit or percentage).
func evidenceSpecificity(texts []string) float64 {
	total, specific := 0, 0
	for _, text := range texts {
		for _, sentence := range splitSentences(text) {
			total++
			if strings.ContainsAny(sentence, "0123456789") || strings.Contains(sentence, "%") {
				specific++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(specific) / float64(total)
}

// internalConsistency is the mean overlap of a role's output between
// consecutive rounds. A single appearance is trivially consistent.
func internalConsistency(texts []string) float64 {
	if len(texts) < 2 {
		return 1
	}
	sum := 0.0
	for i := 1; i < len(texts); i++ {
		sum += overlap(texts[i-1], texts[i])
	}
	return sum / float64(len(texts)-1)
}

// rebuttalScore counts sentences that engage opposing claims, saturating
// at three.
func rebuttalScore(texts []string) float64 {
	count := 0
	for _, text := range texts {
		for _, sentence := range splitSentences(text) {
			lower := strings.ToLower(sentence)
			for _, marker := range rebuttalMarkers {
				if strings.Contains(lower, marker) {
					count++
					break
				}
			}
		}
	}
	score := float64(count) / 3.0
	if score > 1 {
		return 1
	}
	return score
}
