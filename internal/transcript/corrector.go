package transcript

import "strings"

// Correction records one roster substitution applied to a chunk's text.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched roster term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and matching falls back to pure string similarity.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// Corrector aligns transcribed text against a meeting roster. It is
// read-only after construction and safe for concurrent use across sessions.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewCorrector returns a [Corrector] configured with the supplied options.
func NewCorrector(opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct rewrites text so that tokens phonetically matching a roster term
// are replaced by the term's canonical spelling. Roster terms may be
// multi-word ("Acme Northwind"); at each position the longest matching
// n-gram wins, so a full name takes precedence over a surname-only match.
//
// The returned corrections list is empty (not nil) when nothing changed.
func (c *Corrector) Correct(text string, roster []string) (string, []Correction) {
	corrections := []Correction{}
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(roster) == 0 {
		return text, corrections
	}

	// Windows one wider than the longest term let a single-word term match
	// when the model split it across two spoken tokens ("flux lane").
	maxWindow := maxTermWords(roster)
	if maxWindow < 2 {
		maxWindow = 2
	}
	var output []string

	i := 0
	for i < len(tokens) {
		maxN := maxWindow
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := matchRoster(window, roster, c.phoneticThreshold, c.fuzzyThreshold)
			if !ok {
				continue
			}
			if strings.EqualFold(window, term) {
				// Already spelled correctly; emit the canonical form without
				// recording a correction.
				output = append(output, strings.Fields(term)...)
				i += n
				matched = true
				break
			}
			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// maxTermWords returns the maximum number of whitespace-separated words in
// any roster term. Returns 1 when roster is empty.
func maxTermWords(roster []string) int {
	max := 1
	for _, term := range roster {
		if n := len(strings.Fields(term)); n > max {
			max = n
		}
	}
	return max
}
