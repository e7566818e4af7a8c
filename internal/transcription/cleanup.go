package transcription

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	consonantRun = regexp.MustCompile(`(?i)^[bcdfghjklmnpqrstvwxyz]{5,}$`)
	vowels       = "aeiouAEIOUаеёиоуыэюяАЕЁИОУЫЭЮЯ"

	headerStart   = regexp.MustCompile(`^[A-ZА-ЯЁ]`)
	titleCaseWord = regexp.MustCompile(`^[A-ZА-ЯЁ][a-zа-яё]*$`)
)

// ShouldDrop applies the token cleanup rules: empty, lone punctuation,
// short low-confidence and consonant-run garbage
func ShouldDrop(text string, confidence, threshold float64) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}

	n := utf8.RuneCountInString(text)
	if n == 1 {
		r, _ := utf8.DecodeRuneInString(text)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}

	if confidence < threshold && n <= 2 {
		return true
	}

	return IsGarbage(text)
}

// IsGarbage matches long consonant-only runs such as "xkcdmrfb"
func IsGarbage(text string) bool {
	if utf8.RuneCountInString(text) <= 6 {
		return false
	}
	if !consonantRun.MatchString(text) {
		return false
	}
	return !strings.ContainsAny(text, vowels)
}

// LooksLikeHeader: short, starts uppercase, and either all caps or a title-case first word
func LooksLikeHeader(text string) bool {
	if utf8.RuneCountInString(text) >= headerMaxLength {
		return false
	}
	if !headerStart.MatchString(text) {
		return false
	}
	if text == strings.ToUpper(text) {
		return true
	}
	first := strings.SplitN(text, " ", 2)[0]
	return titleCaseWord.MatchString(first)
}

func isJoinLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= 'А' && r <= 'я')
}
