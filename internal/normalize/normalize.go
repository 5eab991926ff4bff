// Package normalize provides deterministic text normalization for fuzzy
// comparison of release titles and contributor names.
package normalize

import (
	"strings"
	"unicode"
)

// Fold lowercases a string, strips punctuation, and collapses whitespace.
// All fuzzy comparisons run on folded strings so that scoring is independent
// of casing, separators, and locale-specific punctuation.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// releaseNoise lists tokens that carry no book identity: format markers,
// rip/source tags, and container words that frequently pad release titles.
var releaseNoise = map[string]struct{}{
	"flac": {}, "m4b": {}, "m4a": {}, "mp3": {}, "aac": {}, "ogg": {},
	"audiobook": {}, "audiobooks": {}, "unabridged": {}, "abridged": {},
	"retail": {}, "web": {}, "webrip": {}, "eac": {}, "cbr": {}, "vbr": {},
	"kbps": {}, "khz": {}, "64k": {}, "128k": {}, "256k": {}, "320k": {},
}

// CleanTitle folds a release title and strips recognized format and rip
// noise tokens so that "Dune [FLAC] Unabridged" compares as "dune".
func CleanTitle(s string) string {
	folded := Fold(s)
	if folded == "" {
		return ""
	}
	fields := strings.Fields(folded)
	kept := fields[:0]
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		// "64 kbps" style pairs drop as a unit.
		if isDigits(f) && i+1 < len(fields) && isBitrateUnit(fields[i+1]) {
			i++
			continue
		}
		if _, noisy := releaseNoise[f]; noisy {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isBitrateUnit(s string) bool {
	return s == "kbps" || s == "khz" || s == "kbit"
}

// NameTokens splits a folded string into candidate person-name windows of
// two and three consecutive words, plus single words. Release titles rarely
// delimit author names, so the matcher compares each window against the
// requested authors and narrators.
func NameTokens(s string) []string {
	words := strings.Fields(Fold(s))
	if len(words) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(words)*3)
	tokens = append(tokens, words...)
	for i := 0; i+1 < len(words); i++ {
		tokens = append(tokens, words[i]+" "+words[i+1])
	}
	for i := 0; i+2 < len(words); i++ {
		tokens = append(tokens, words[i]+" "+words[i+1]+" "+words[i+2])
	}
	return tokens
}
