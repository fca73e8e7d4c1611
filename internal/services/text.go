package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// emailRE is deliberately loose; deliverability is not checked.
var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// foldCase is shared for case-insensitive comparisons of names.
var foldCase = cases.Fold()

// normalizeText trims and NFC-normalizes user text, keeping inner line
// breaks so multi-line questions survive.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// normalizeTitle trims whitespace and collapses runs of it to one space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(norm.NFC.String(strings.TrimSpace(s)), " ")
}

// clipRunes truncates s to at most n runes; n <= 0 disables the cap.
func clipRunes(s string, n int) string {
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n])
	}
	return s
}

// titleFromMessage derives a conversation title from its first message.
func titleFromMessage(msg string, maxRunes int) string {
	return strings.TrimSpace(clipRunes(normalizeTitle(msg), maxRunes))
}

func validEmail(s string) bool { return emailRE.MatchString(s) }

// sameName compares two display names ignoring case.
func sameName(a, b string) bool {
	return foldCase.String(strings.TrimSpace(a)) == foldCase.String(strings.TrimSpace(b))
}
