package facematch

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

var separatorReplacer = strings.NewReplacer("-", " ", "_", " ", ".", " ")

// NormalizePersonName normalizes a name for comparison: lowercase, no
// diacritics, dashes, underscores and dots as spaces, single spaces.
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = separatorReplacer.Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// ReferenceKeyMatches reports whether a reference image key such as
// "photos/jan_novak-2.jpg" belongs to the named employee. The base name
// without extension must contain the normalized name.
func ReferenceKeyMatches(key, name string) bool {
	want := NormalizePersonName(name)
	if want == "" {
		return false
	}
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.Contains(NormalizePersonName(base), want)
}
