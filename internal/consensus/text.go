package consensus

import (
	"strings"
	"unicode"
)

// stopwords are excluded from overlap comparison so agreement reflects
// claims, not connective tissue.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "we": true, "i": true, "you": true,
}

// tokenize lowercases text and returns its significant token set.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if token == "" || stopwords[token] {
			continue
		}
		tokens[token] = true
	}
	return tokens
}

// jaccard returns the Jaccard similarity of two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// overlap is the Jaccard similarity of two texts' token sets.
func overlap(a, b string) float64 {
	return jaccard(tokenize(a), tokenize(b))
}

// splitSentences breaks text into sentences on terminal punctuation and
// newlines.
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

// assumptionStatements extracts explicitly stated assumptions from content.
// Perspectives are prompted to prefix them with "Assumption:"; sentences
// containing "assume" are caught as well.
func assumptionStatements(content string) []string {
	var out []string
	for _, s := range splitSentences(content) {
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "assumption:") || strings.Contains(lower, "assume") {
			out = append(out, s)
		}
	}
	return out
}
