// Package resolve canonicalizes company names and scores them against the
// do-not-mail roster.
package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists business-entity suffixes stripped from the end of a
// name, longest first. Matching is per token after punctuation removal, so
// "L.L.C." and "Corp." arrive here as "llc" and "corp".
var legalSuffixes = []string{
	"incorporated",
	"corporation",
	"company",
	"limited",
	"pllc",
	"corp",
	"inc",
	"llc",
	"llp",
	"plc",
	"ltd",
	"lp",
	"pc",
	"co",
	"na",
}

var suffixSet = func() map[string]bool {
	m := make(map[string]bool, len(legalSuffixes))
	for _, s := range legalSuffixes {
		m[s] = true
	}
	return m
}()

// unitWords introduce a suite/unit designator that is dropped together with
// the number that follows it.
var unitWords = map[string]bool{
	"suite": true, "ste": true, "unit": true, "apt": true, "room": true, "rm": true,
}

var attnWords = map[string]bool{"attn": true, "attention": true}

// NormalizeName canonicalizes an organization name for comparison:
//  1. Unicode compatibility folding and accent removal
//  2. Lowercasing
//  3. Punctuation removal ("." "," "'" dropped; "-" "(" ")" "/" and the rest become spaces)
//  4. Connector collapse ("&" and "+" become "and")
//  5. Removal of ATTN:, C/O and suite/unit artifacts
//  6. Repeated stripping of trailing legal suffixes (Inc, LLC, Corp, ...)
//  7. Whitespace collapse
//
// The result is a fixed point: NormalizeName(NormalizeName(x)) == NormalizeName(x).
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	// Lowercase on both sides of folding: ToLower can emit combining marks
	// ("İ") and NFKD can emit capitals ("ℌ").
	name = strings.ToLower(fold(strings.ToLower(name)))
	name = stripPunctuation(name)

	tokens := cleanTokens(strings.Fields(name))
	return strings.Join(tokens, " ")
}

var foldChain = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(s string) string {
	out, _, err := transform.String(foldChain, s)
	if err != nil {
		return s
	}
	return out
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch {
		case r == '.' || r == ',' || r == '\'' || r == '"' || r == '’' || r == '`':
			// dropped
		case r == '&' || r == '+':
			b.WriteString(" and ")
		case r == '#':
			b.WriteString(" # ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// cleanTokens removes artifacts and suffixes until nothing changes.
func cleanTokens(tokens []string) []string {
	for {
		next := cleanOnce(tokens)
		if len(next) == len(tokens) {
			return next
		}
		tokens = next
	}
}

func cleanOnce(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case attnWords[tok]:
			continue
		case tok == "c" && i+1 < len(tokens) && tokens[i+1] == "o":
			i++
			continue
		case tok == "#":
			if i+1 < len(tokens) {
				i++
			}
			continue
		case unitWords[tok] && i+1 < len(tokens) && hasDigit(tokens[i+1]):
			i++
			continue
		}
		out = append(out, tok)
	}

	// Never strip the last remaining token: a bare "LLC" stays "llc".
	for len(out) > 1 {
		last := out[len(out)-1]
		if suffixSet[last] || last == "and" {
			out = out[:len(out)-1]
			continue
		}
		break
	}
	return out
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
