// Package enumerate drives brute-force searches against an API that only
// offers substring search. Terms are generated lazily and results persisted
// per term, so an interrupted run resumes where it stopped.
package enumerate

import (
	"iter"
	"strings"
)

// Alphabets used by the default phases.
const (
	Digits    = "0123456789"
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
)

// Phase enumerates every string over Alphabet with length in [MinLen, MaxLen].
type Phase struct {
	Alphabet string
	MinLen   int
	MaxLen   int
}

// DefaultPhases covers single digits, then digits and lowercase letters up to
// maxLen characters.
func DefaultPhases(maxLen int) []Phase {
	return []Phase{
		{Alphabet: Digits, MinLen: 1, MaxLen: 1},
		{Alphabet: Digits + Lowercase, MinLen: 1, MaxLen: maxLen},
	}
}

// Terms yields the lower-cased terms of every phase in order, skipping terms
// an earlier phase already produced.
func Terms(phases ...Phase) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]struct{})
		for _, p := range phases {
			alphabet := []rune(dedupe(strings.ToLower(p.Alphabet)))
			if len(alphabet) == 0 {
				continue
			}
			for n := max(p.MinLen, 1); n <= p.MaxLen; n++ {
				for term := range fixedLength(alphabet, n) {
					if _, ok := seen[term]; ok {
						continue
					}
					seen[term] = struct{}{}
					if !yield(term) {
						return
					}
				}
			}
		}
	}
}

// fixedLength yields all strings of length n over alphabet in odometer order.
func fixedLength(alphabet []rune, n int) iter.Seq[string] {
	return func(yield func(string) bool) {
		idx := make([]int, n)
		buf := make([]rune, n)
		for {
			for i, j := range idx {
				buf[i] = alphabet[j]
			}
			if !yield(string(buf)) {
				return
			}
			i := n - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < len(alphabet) {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

func dedupe(s string) string {
	var b strings.Builder
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		b.WriteRune(r)
	}
	return b.String()
}
