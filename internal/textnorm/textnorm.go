// Package textnorm normalizes free text for matching: lowercasing, accent
// stripping and punctuation collapsing.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are ignored when computing content tokens. Accent-free, lower case.
var stopwords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "l": {}, "un": {}, "une": {}, "des": {}, "de": {}, "du": {}, "d": {},
	"et": {}, "ou": {}, "a": {}, "au": {}, "aux": {}, "en": {}, "pour": {}, "par": {}, "sur": {},
	"je": {}, "j": {}, "tu": {}, "il": {}, "elle": {}, "on": {}, "nous": {}, "vous": {}, "ils": {},
	"me": {}, "te": {}, "se": {}, "m": {}, "t": {}, "s": {}, "c": {}, "ce": {}, "ca": {}, "qu": {},
	"que": {}, "qui": {}, "quoi": {}, "est": {}, "sont": {}, "vos": {}, "votre": {}, "mon": {},
	"ma": {}, "mes": {}, "ne": {}, "pas": {}, "y": {}, "avez": {}, "ai": {}, "the": {},
	"is": {}, "are": {}, "what": {}, "your": {}, "do": {}, "you": {}, "of": {}, "to": {},
}

// Normalize lowercases s, strips accents, turns every non letter/digit rune
// into a space and collapses whitespace.
func Normalize(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	space := true
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the normalized tokens of s.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// ContentTokens returns normalized tokens of s with stopwords removed.
func ContentTokens(s string) []string {
	all := Tokens(s)
	out := make([]string, 0, len(all))
	for _, tok := range all {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Set converts tokens to a set.
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is the token-set similarity |A∩B| / |A∪B|. Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	sa, sb := Set(a), Set(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// ContainsAny reports whether the normalized text contains any of the
// normalized phrases as a whole-word sequence.
func ContainsAny(text string, phrases ...string) bool {
	padded := " " + Normalize(text) + " "
	for _, p := range phrases {
		np := Normalize(p)
		if np == "" {
			continue
		}
		if strings.Contains(padded, " "+np+" ") {
			return true
		}
	}
	return false
}
