package consensus

import (
	"errors"
	"strings"
	"testing"

	"github.com/arbiterhq/arbiter/internal/core"
)

func testStance(role core.Role) core.Stance {
	switch role {
	case "advocate":
		return core.StanceFor
	case "critic":
		return core.StanceAgainst
	default:
		return core.StanceNeutral
	}
}

func newTestSynthesizer() *Synthesizer {
	return NewSynthesizer(QualityWeights{}, nil, RiskParams{}, testStance)
}

func strongTranscript() *core.Transcript {
	transcript := &core.Transcript{}
	transcript.Append(round(0, map[core.Role]string{
		"advocate": "Revenue grew 14% with margins up 2 points. However the valuation is already rich. Assumption: rates hold.",
		"critic":   "Revenue grew 14% with margins up 2 points. However the valuation is already rich. Assumption: rates hold.",
		"analyst":  "Revenue grew 14% with margins up 2 points. However the valuation is already rich. Assumption: rates hold.",
	}))
	return transcript
}

func TestSynthesizeProducesDecision(t *testing.T) {
	s := newTestSynthesizer()
	transcript := strongTranscript()
	assessment := NewDetector(SignalWeights{}).Evaluate(transcript)

	decision, err := s.Synthesize("session-1", transcript, assessment, 2)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if decision.SessionID != "session-1" {
		t.Errorf("wrong session id: %s", decision.SessionID)
	}
	if decision.Confidence <= 0.8 {
		t.Errorf("strong consensus should yield high confidence: got %.2f", decision.Confidence)
	}
	if decision.Rationale == "" {
		t.Error("empty rationale")
	}
}

func TestSizingNeverExceedsCeiling(t *testing.T) {
	// Extreme magnitudes and a tiny ceiling: the cap must always hold.
	scenarios := []Scenario{
		{Name: "best", Magnitude: 100, Stance: core.StanceFor},
		{Name: "worst", Magnitude: -0.01, Stance: core.StanceAgainst},
	}
	risk := RiskParams{BudgetCeiling: 0.05, Conservatism: 1.0}
	s := NewSynthesizer(QualityWeights{}, scenarios, risk, testStance)

	transcript := &core.Transcript{}
	transcript.Append(round(0, map[core.Role]string{
		"advocate": "Upside of 100% is certain. The data shows 40% growth.",
		"critic":   "Upside of 100% is certain. The data shows 40% growth.",
	}))
	assessment := NewDetector(SignalWeights{}).Evaluate(transcript)

	decision, err := s.Synthesize("s", transcript, assessment, 1)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if decision.Sizing > 0.05 {
		t.Errorf("sizing %.4f exceeds ceiling 0.05", decision.Sizing)
	}
}

func TestActionFollowsExpectedValue(t *testing.T) {
	t.Run("AdvocatesDominateBuy", func(t *testing.T) {
		s := newTestSynthesizer()
		transcript := &core.Transcript{}
		// Only for-stance roles produce usable output.
		transcript.Append(core.DebateRound{Index: 0, Results: []core.PerspectiveResult{
			{Role: "advocate", Content: "Growth of 20% with 3 new contracts. However competition lags.", Succeeded: true},
			{Role: "critic", Succeeded: false, ErrKind: core.ErrKindTimeout},
			{Role: "analyst", Succeeded: false, ErrKind: core.ErrKindTimeout},
		}})
		assessment := core.ConsensusAssessment{Type: core.ConsensusPartial, AgreementScore: 0.5}

		decision, err := s.Synthesize("s", transcript, assessment, 1)
		if err != nil {
			t.Fatalf("synthesize failed: %v", err)
		}
		if decision.Action != core.ActionBuy {
			t.Errorf("wrong action: got %s, want buy", decision.Action)
		}
		if decision.ExpectedValue <= 0 {
			t.Errorf("expected positive EV, got %.2f", decision.ExpectedValue)
		}
	})

	t.Run("CriticsDominateSell", func(t *testing.T) {
		s := newTestSynthesizer()
		transcript := &core.Transcript{}
		transcript.Append(core.DebateRound{Index: 0, Results: []core.PerspectiveResult{
			{Role: "advocate", Succeeded: false, ErrKind: core.ErrKindTimeout},
			{Role: "critic", Content: "Losses of 30% loom. Debt is 5x earnings. However revenue is flat.", Succeeded: true},
		}})
		assessment := core.ConsensusAssessment{Type: core.ConsensusPartial, AgreementScore: 0.5}

		decision, err := s.Synthesize("s", transcript, assessment, 1)
		if err != nil {
			t.Fatalf("synthesize failed: %v", err)
		}
		if decision.Action != core.ActionSell {
			t.Errorf("wrong action: got %s, want sell", decision.Action)
		}
	})

	t.Run("BalancedHold", func(t *testing.T) {
		scenarios := []Scenario{
			{Name: "best", Magnitude: 1.0, Stance: core.StanceFor},
			{Name: "worst", Magnitude: -1.0, Stance: core.StanceAgainst},
		}
		s := NewSynthesizer(QualityWeights{}, scenarios, RiskParams{}, testStance)
		shared := "Growth of 10% against losses of 10%. However both are uncertain."
		transcript := &core.Transcript{}
		transcript.Append(round(0, map[core.Role]string{
			"advocate": shared,
			"critic":   shared,
		}))
		assessment := NewDetector(SignalWeights{}).Evaluate(transcript)

		decision, err := s.Synthesize("s", transcript, assessment, 1)
		if err != nil {
			t.Fatalf("synthesize failed: %v", err)
		}
		if decision.Action != core.ActionHold {
			t.Errorf("wrong action: got %s, want hold", decision.Action)
		}
		if decision.Sizing != 0 {
			t.Errorf("hold must carry zero sizing, got %.4f", decision.Sizing)
		}
	})
}

func TestSynthesisAmbiguous(t *testing.T) {
	s := newTestSynthesizer()
	transcript := &core.Transcript{}
	transcript.Append(core.DebateRound{Index: 0, Results: []core.PerspectiveResult{
		{Role: "advocate", Content: "Momentum strong upward.", Succeeded: true},
		{Role: "critic", Succeeded: false, ErrKind: core.ErrKindTimeout},
		{Role: "analyst", Succeeded: false, ErrKind: core.ErrKindUnavailable},
	}})
	assessment := core.ConsensusAssessment{Type: core.ConsensusNone, AgreementScore: 0.1}

	_, err := s.Synthesize("s", transcript, assessment, 2)
	var ambiguous *core.SynthesisAmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected SynthesisAmbiguousError, got %v", err)
	}
	if ambiguous.FinalSucceeded != 1 {
		t.Errorf("wrong succeeded count in error: %d", ambiguous.FinalSucceeded)
	}

	t.Run("QuorumMetDespiteNoConsensus", func(t *testing.T) {
		// Disagreement with a usable quorum still synthesizes.
		transcript := &core.Transcript{}
		transcript.Append(round(0, map[core.Role]string{
			"advocate": "Momentum signals 15% upside ahead.",
			"critic":   "Lawsuit exposure threatens 20% losses.",
		}))
		assessment := core.ConsensusAssessment{Type: core.ConsensusNone, AgreementScore: 0.1}
		if _, err := s.Synthesize("s", transcript, assessment, 2); err != nil {
			t.Errorf("unexpected error with quorum met: %v", err)
		}
	})
}

func TestNoActionDecision(t *testing.T) {
	d := NoActionDecision("s", "quorum never met")
	if d.Action != core.ActionNone {
		t.Errorf("wrong action: %s", d.Action)
	}
	if d.Confidence != 0 || d.Sizing != 0 {
		t.Errorf("no-action decision must be zeroed: confidence=%.2f sizing=%.2f", d.Confidence, d.Sizing)
	}
	if !strings.Contains(d.Rationale, "quorum never met") {
		t.Errorf("rationale missing reason: %q", d.Rationale)
	}
}

func TestConfidenceDiscountedByFailures(t *testing.T) {
	s := newTestSynthesizer()
	assessment := core.ConsensusAssessment{Type: core.ConsensusPartial, AgreementScore: 0.5}

	full := &core.Transcript{}
	full.Append(round(0, map[core.Role]string{
		"advocate": "Growth 10% likely. However risks exist.",
		"critic":   "Risks of 10% decline. However growth may hold.",
	}))

	degraded := &core.Transcript{}
	degraded.Append(core.DebateRound{Index: 0, Results: []core.PerspectiveResult{
		{Role: "advocate", Content: "Growth 10% likely. However risks exist.", Succeeded: true},
		{Role: "critic", Content: "Risks of 10% decline. However growth may hold.", Succeeded: true},
		{Role: "analyst", Succeeded: false, ErrKind: core.ErrKindTimeout},
	}})

	fullDecision, err := s.Synthesize("a", full, assessment, 1)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	degradedDecision, err := s.Synthesize("b", degraded, assessment, 1)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}

	if degradedDecision.Confidence >= fullDecision.Confidence {
		t.Errorf("failure did not reduce confidence: %.2f vs %.2f",
			degradedDecision.Confidence, fullDecision.Confidence)
	}
}
