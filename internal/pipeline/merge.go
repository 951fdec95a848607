// Package pipeline implements the per-session transcription finalization
// pipeline: partial tracking, finalization of lossy recognizer finals,
// forced-commit handling after stream restarts, and the per-segment
// finality gate that guarantees exactly one commit per utterance.
package pipeline

import (
	"strings"
	"unicode"
)

// maxOverlapScan bounds the suffix/prefix overlap search.
const maxOverlapScan = 200

// stem suffixes accepted when matching tokens between a partial and a final.
// Recognizers frequently retract "gather" to "gathered" or "gathering"
// between interim results.
var stemSuffixes = []string{"ing", "ed", "es", "er", "ly", "s"}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stemEqual(a, b string) bool {
	if a == b {
		return true
	}
	for _, sa := range tokenStems(a) {
		for _, sb := range tokenStems(b) {
			if sa == sb {
				return true
			}
		}
	}
	return false
}

// tokenStems lists the token plus each reading of it with a known inflection
// suffix removed, keeping at least three stem characters so short function
// words never collide.
func tokenStems(w string) []string {
	out := []string{w}
	for _, suf := range stemSuffixes {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			out = append(out, w[:len(w)-len(suf)])
		}
	}
	return out
}

// Extends reports whether candidate is a strict extension of base: it must be
// longer, and its leading portion must match base exactly, case-insensitively,
// or token-by-token under stem matching.
func Extends(candidate, base string) bool {
	candidate = strings.TrimSpace(candidate)
	base = strings.TrimSpace(base)
	if base == "" {
		return candidate != ""
	}
	if len(candidate) <= len(base) {
		return false
	}
	if strings.HasPrefix(candidate, base) {
		return true
	}

	nc := normalizeSpace(strings.ToLower(candidate))
	nb := normalizeSpace(strings.ToLower(base))
	if len(nc) > len(nb) && strings.HasPrefix(nc, nb) {
		return true
	}
	if len(nb) > 5 && len(nc) >= len(nb) && nc[:len(nb)] == nb {
		return true
	}

	baseTokens := strings.Fields(nb)
	candTokens := strings.Fields(nc)
	if len(candTokens) <= len(baseTokens) {
		return false
	}
	for i, bt := range baseTokens {
		if !stemEqual(candTokens[i], bt) {
			return false
		}
	}
	return true
}

// MergeWithOverlap joins two transcript fragments that share a boundary.
// It returns the merged text and true on success, or ("", false) when the
// fragments cannot be reconciled (likely different utterances).
func MergeWithOverlap(prev, next string) (string, bool) {
	if strings.TrimSpace(next) == "" {
		return prev, true
	}
	if strings.TrimSpace(prev) == "" {
		return next, true
	}

	if strings.HasPrefix(next, prev) || strings.HasPrefix(strings.ToLower(next), strings.ToLower(prev)) {
		return next, true
	}

	maxL := len(prev)
	if len(next) < maxL {
		maxL = len(next)
	}
	if maxL > maxOverlapScan {
		maxL = maxOverlapScan
	}
	for l := maxL; l >= 3; l-- {
		tail := prev[len(prev)-l:]
		head := next[:l]
		if tail == head || strings.EqualFold(tail, head) {
			return prev + next[l:], true
		}
		if l >= 5 {
			nt := normalizeSpace(strings.ToLower(tail))
			nh := normalizeSpace(strings.ToLower(head))
			if nt != "" && nt == nh {
				// The normalized cut may land beside collapsed whitespace, so
				// rejoin on a clean word boundary.
				merged := strings.TrimRight(prev, " ")
				if rest := strings.TrimLeft(next[l:], " "); rest != "" {
					merged += " " + rest
				}
				return merged, true
			}
		}
	}

	// No prefix relation and no boundary overlap: these are different
	// utterances. Gluing them together would duplicate committed text.
	return "", false
}

// closing quote and bracket runes that may follow terminal punctuation.
const sentenceClosers = `"'”’»)]`

// EndsWithCompleteSentence reports whether text ends in terminal punctuation,
// optionally followed by closing quotes or brackets.
func EndsWithCompleteSentence(text string) bool {
	t := strings.TrimRight(text, " \t\n")
	t = strings.TrimRight(t, sentenceClosers)
	if t == "" {
		return false
	}
	r := []rune(t)
	switch r[len(r)-1] {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// EndsMidWord reports whether the text was likely truncated inside a word:
// the last rune is neither whitespace nor punctuation.
func EndsMidWord(text string) bool {
	r := []rune(text)
	if len(r) == 0 {
		return false
	}
	last := r[len(r)-1]
	return !unicode.IsSpace(last) && !unicode.IsPunct(last) && last != '…'
}
