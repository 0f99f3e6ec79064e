package contextview

import (
	"strings"

	"github.com/arbiterhq/arbiter/internal/core"
)

// positiveIndicators mark sentences relevant to advocate-for stances.
var positiveIndicators = []string{
	"growth", "beat", "beats", "exceed", "upgrade", "momentum", "strong",
	"record", "gain", "gains", "improve", "improved", "expansion", "surge",
	"outperform", "bullish", "upside", "rally", "accelerat", "robust",
}

// negativeIndicators mark sentences relevant to advocate-against stances.
var negativeIndicators = []string{
	"decline", "miss", "missed", "downgrade", "risk", "weak", "loss",
	"losses", "drop", "fall", "falls", "concern", "lawsuit", "debt",
	"underperform", "bearish", "downside", "slowdown", "warning", "volatil",
}

// summarySentences is how many leading sentences the neutral rule keeps
// per domain before budget enforcement.
const summarySentences = 6

// extractForStance applies the role-oriented extraction rule to a report's
// content. Advocate-for roles keep sentences matching positive indicators,
// advocate-against roles keep negative matches, and neutral roles keep a
// leading summary. If stance filtering matches nothing, the rule falls back
// to the summary so a relevant domain never contributes an empty section.
func extractForStance(content string, stance core.Stance) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	var indicators []string
	switch stance {
	case core.StanceFor:
		indicators = positiveIndicators
	case core.StanceAgainst:
		indicators = negativeIndicators
	default:
		return joinSentences(leading(sentences, summarySentences))
	}

	var matched []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, ind := range indicators {
			if strings.Contains(lower, ind) {
				matched = append(matched, s)
				break
			}
		}
	}

	if len(matched) == 0 {
		return joinSentences(leading(sentences, summarySentences))
	}
	return joinSentences(matched)
}

// splitSentences breaks text into sentences on terminal punctuation.
// Newlines also terminate a sentence so list-style reports split cleanly.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?':
			current.WriteRune(r)
			flush()
		case '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return sentences
}

func joinSentences(sentences []string) string {
	return strings.Join(sentences, " ")
}

func leading(sentences []string, n int) []string {
	if len(sentences) > n {
		return sentences[:n]
	}
	return sentences
}
