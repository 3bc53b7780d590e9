// Package transcript post-processes transcribed text before it enters the
// meeting record.
//
// Speech models routinely mangle proper nouns: an attendee called "Björn
// Eriksen" comes back as "Byorn Erikson", a product called "Fluxline" as
// "flux lane". The corrector aligns such tokens against the meeting's known
// roster (attendee names, company, product terms) using Double Metaphone
// phonetic codes with Jaro-Winkler ranking, both from
// github.com/antzucaro/matchr.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenShare is the minimum Jaro-Winkler score each input token must
	// reach against the roster term when the window has more tokens than the
	// term. Without it a window like "renew flux" would absorb "renew" into a
	// Fluxline match.
	minTokenShare = 0.40
)

// matchRoster tests one token (or space-joined n-gram) against every roster
// term and returns the best term.
//
// Selection runs in two stages. Terms sharing at least one Double Metaphone
// code with the input are phonetic candidates and are ranked by Jaro-Winkler
// similarity against the phonetic threshold. When no phonetic candidate
// clears the bar, a pure Jaro-Winkler pass runs against the stricter fuzzy
// threshold, which catches spelling drift the metaphone codes miss.
func matchRoster(word string, roster []string, phoneticThreshold, fuzzyThreshold float64) (corrected string, confidence float64, matched bool) {
	if len(roster) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := metaphoneCodes(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, term := range roster {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		// Oversized windows model a term the speech model split into pieces
		// ("flux lane" for Fluxline). They are rejected when a single token
		// already IS the term, or when a token contributes nothing.
		if len(wordTokens) > len(termTokens) {
			if containsWholeTerm(wordTokens, termTokens) || !allTokensContribute(wordTokens, termTokens) {
				continue
			}
		}

		phoneticMatch := codesOverlap(inputCodes, metaphoneCodes(termTokens))
		score := bestSimilarity(wordTokens, termTokens, wordLower, termLower)

		if phoneticMatch {
			if score >= phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{term: term, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= fuzzyThreshold && score > best.score {
				best = candidate{term: term, score: score, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// containsWholeTerm reports whether one input token already equals the
// space-stripped term, in which case a wider window would swallow the
// neighbouring word ("ask fluxline" must not become "Fluxline").
func containsWholeTerm(inputTokens, termTokens []string) bool {
	concatTerm := strings.Join(termTokens, "")
	for _, it := range inputTokens {
		if strings.EqualFold(it, concatTerm) {
			return true
		}
	}
	return false
}

// allTokensContribute reports whether every input token reaches minTokenShare
// against the space-stripped roster term.
func allTokensContribute(inputTokens, termTokens []string) bool {
	concatTerm := strings.Join(termTokens, "")
	for _, it := range inputTokens {
		if matchr.JaroWinkler(it, concatTerm, false) < minTokenShare {
			return false
		}
	}
	return true
}

// bestSimilarity scores a window against a roster term.
//
// When the window and the term have the same number of tokens (above one),
// the score is the mean of the position-aligned per-token Jaro-Winkler
// scores. Whole-string comparison is too forgiving there: "with katherine"
// scores around 0.7 against "Katherine Voss" on full strings, while the
// aligned mean correctly collapses because "with"/"katherine" and
// "katherine"/"voss" are unrelated.
//
// For mismatched token counts the score is the higher of the full-string
// and space-stripped comparisons, which handles words the speech model
// split or fused.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	if len(inputTokens) == len(termTokens) && len(inputTokens) > 1 {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		return sum / float64(len(inputTokens))
	}

	score := matchr.JaroWinkler(inputFull, termFull, false)
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concatIn := strings.Join(inputTokens, "")
		concatTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concatIn, concatTerm, false); s > score {
			score = s
		}
	}
	return score
}
