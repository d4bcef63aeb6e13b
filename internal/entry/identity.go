package entry

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a display name to its identity key: trimmed, NFC-normalized
// and lower-cased. Blank input maps to the lower-cased AnonymousName.
//
// Normalize is total and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		s = AnonymousName
	}
	// A Caser carries state between calls and is not safe for concurrent
	// use, so each call gets its own. Lower-casing can leave a string
	// outside NFC, so compose again afterwards.
	s = norm.NFC.String(cases.Lower(language.Und).String(norm.NFC.String(s)))
	return strings.TrimSpace(s)
}

// IdentityOf returns the identity key for a possibly-absent name.
func IdentityOf(name *string) string {
	return Normalize(DisplayName(name))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
