// Package match scores candidate download names against the release a
// job snatched, tolerating renames, re-punctuation and tagging by
// download clients.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// tagMarker is appended to snatched names to carry tracking data, e.g.
// "Author - Title LL.(abc123)". Everything from the marker on is noise.
const tagMarker = " LL.("

// StripTag removes the tracking suffix from a release name.
func StripTag(name string) string {
	if idx := strings.Index(name, tagMarker); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Normalize prepares a name for fuzzy comparison. Curly quotes become
// straight, accents are stripped, and case is folded. Token splitting
// handles dots, dashes and underscores, so they are left in place.
func Normalize(name string) string {
	s := StripTag(name)
	s = strings.ReplaceAll(s, "‘", "'")
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "“", `"`)
	s = strings.ReplaceAll(s, "”", `"`)
	s = removeAccents(s)
	return strings.ToLower(s)
}

func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// tokenize splits a normalized name into alphanumeric tokens.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
