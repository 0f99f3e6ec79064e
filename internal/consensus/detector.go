// Package consensus scores agreement across perspective outputs and
// synthesizes the final decision of a deliberation session.
package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arbiterhq/arbiter/internal/core"
)

// SignalWeights combine the three agreement signals into one score.
type SignalWeights struct {
	Direct           float64 `yaml:"direct"`
	Implicit         float64 `yaml:"implicit"`
	SharedAssumption float64 `yaml:"shared_assumption"`
}

// DefaultSignalWeights returns the documented 0.4/0.3/0.3 model.
func DefaultSignalWeights() SignalWeights {
	return SignalWeights{Direct: 0.4, Implicit: 0.3, SharedAssumption: 0.3}
}

// dissentThreshold is the pairwise overlap below which two perspectives are
// recorded as a dissent point.
const dissentThreshold = 0.4

// Detector evaluates the degree of agreement in a transcript. Evaluation is
// a pure function of the transcript: identical transcripts always yield
// identical assessments.
type Detector struct {
	weights SignalWeights
}

// NewDetector creates a detector with the given signal weights. Zero-valued
// weights fall back to the defaults.
func NewDetector(weights SignalWeights) *Detector {
	if weights.Direct == 0 && weights.Implicit == 0 && weights.SharedAssumption == 0 {
		weights = DefaultSignalWeights()
	}
	return &Detector{weights: weights}
}

// Evaluate scores and classifies the transcript's current state.
func (d *Detector) Evaluate(t *core.Transcript) core.ConsensusAssessment {
	last := t.LastRound()
	if last == nil {
		return core.ConsensusAssessment{Type: core.ConsensusNone}
	}

	direct := directAgreement(last)
	implicit, hasImplicit := implicitAlignment(t)
	shared, hasShared := sharedAssumptionOverlap(t)

	// Signals that cannot be measured yet (single round, no stated
	// assumptions) follow the direct signal instead of dragging the
	// score toward zero.
	if !hasImplicit {
		implicit = direct
	}
	if !hasShared {
		shared = direct
	}

	score := d.weights.Direct*direct +
		d.weights.Implicit*implicit +
		d.weights.SharedAssumption*shared
	score = clamp01(score)

	return core.ConsensusAssessment{
		Type:           Classify(score),
		AgreementScore: score,
		DissentPoints:  dissentPoints(last),
	}
}

// Classify maps an agreement score to its consensus band.
func Classify(score float64) core.ConsensusType {
	switch {
	case score > 0.8:
		return core.ConsensusStrong
	case score >= 0.6:
		return core.ConsensusOperational
	case score >= 0.4:
		return core.ConsensusPartial
	default:
		return core.ConsensusNone
	}
}

// directAgreement is the mean pairwise overlap of the last round's
// successful results.
func directAgreement(round *core.DebateRound) float64 {
	succeeded := round.Succeeded()
	if len(succeeded) < 2 {
		// A single voice cannot disagree with itself.
		if len(succeeded) == 1 {
			return 1
		}
		return 0
	}

	sum, pairs := 0.0, 0
	for i := 0; i < len(succeeded); i++ {
		for j := i + 1; j < len(succeeded); j++ {
			sum += overlap(succeeded[i].Content, succeeded[j].Content)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// implicitAlignment is the mean cross-role overlap between adjacent rounds:
// how much each perspective's latest output echoes what the others said in
// the round before. Undefined until two rounds exist.
func implicitAlignment(t *core.Transcript) (float64, bool) {
	if len(t.Rounds) < 2 {
		return 0, false
	}

	sum, pairs := 0.0, 0
	for k := 1; k < len(t.Rounds); k++ {
		prev := t.Rounds[k-1].Succeeded()
		curr := t.Rounds[k].Succeeded()
		for _, p := range prev {
			for _, c := range curr {
				if p.Role == c.Role {
					continue
				}
				sum += overlap(p.Content, c.Content)
				pairs++
			}
		}
	}
	if pairs == 0 {
		return 0, false
	}
	return sum / float64(pairs), true
}

// sharedAssumptionOverlap is the mean pairwise overlap between the
// assumption statements of different roles, pooled across all rounds.
// Undefined when fewer than two roles stated assumptions.
func sharedAssumptionOverlap(t *core.Transcript) (float64, bool) {
	byRole := make(map[core.Role][]string)
	for _, round := range t.Rounds {
		for _, r := range round.Succeeded() {
			byRole[r.Role] = append(byRole[r.Role], assumptionStatements(r.Content)...)
		}
	}

	roles := make([]core.Role, 0, len(byRole))
	for role, statements := range byRole {
		if len(statements) > 0 {
			roles = append(roles, role)
		}
	}
	if len(roles) < 2 {
		return 0, false
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	sum, pairs := 0.0, 0
	for i := 0; i < len(roles); i++ {
		for j := i + 1; j < len(roles); j++ {
			a := strings.Join(byRole[roles[i]], " ")
			b := strings.Join(byRole[roles[j]], " ")
			sum += overlap(a, b)
			pairs++
		}
	}
	return sum / float64(pairs), true
}

// dissentPoints records the last-round pairs whose overlap falls below the
// dissent threshold.
func dissentPoints(round *core.DebateRound) []string {
	succeeded := round.Succeeded()
	var points []string
	for i := 0; i < len(succeeded); i++ {
		for j := i + 1; j < len(succeeded); j++ {
			score := overlap(succeeded[i].Content, succeeded[j].Content)
			if score < dissentThreshold {
				points = append(points, fmt.Sprintf(
					"%s and %s diverge (overlap %.2f)",
					succeeded[i].Role, succeeded[j].Role, score,
				))
			}
		}
	}
	return points
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
