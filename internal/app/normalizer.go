package app

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"exchange_compass/internal/domain"
)

/********** PII patterns (single source of truth) **********/

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
	// digit runs of 7+ with common separators, e.g. phone numbers
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-().]{5,}\d`)
	// explicit identity annotations emitted by upstream importers
	nameTagPattern = regexp.MustCompile(`(?i)\[name:[^\]]*\]`)
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
)

const redactedMark = "[redacted]"

// arabicShareThreshold is the fraction of Arabic-range letters above which
// text is tagged ar.
const arabicShareThreshold = 0.30

// Normalize strips residual PII from raw review text and assigns a language
// tag. It is a pure function: same input, same output, no side effects.
// Empty or effectively-empty text (nothing left but redaction marks) fails
// with domain.ErrEmptyContent and the record must not be persisted.
func Normalize(raw string, sourceHint domain.SourceType) (string, domain.Language, error) {
	clean := raw
	if sourceHint == domain.SourceWebScrape {
		// crawlers occasionally leak markup into the text field
		clean = htmlTagPattern.ReplaceAllString(clean, " ")
	}
	clean = nameTagPattern.ReplaceAllString(clean, redactedMark)
	clean = emailPattern.ReplaceAllString(clean, redactedMark)
	clean = urlPattern.ReplaceAllString(clean, redactedMark)
	clean = phonePattern.ReplaceAllString(clean, redactedMark)
	clean = strings.TrimSpace(clean)

	if isEffectivelyEmpty(clean) {
		return "", domain.LangUnknown, fmt.Errorf("%w: no usable review text", domain.ErrEmptyContent)
	}
	return clean, detectLanguage(clean), nil
}

// isEffectivelyEmpty reports whether s contains nothing beyond redaction
// marks and whitespace. A field we cannot anonymize is dropped, not stored.
func isEffectivelyEmpty(s string) bool {
	s = strings.ReplaceAll(s, redactedMark, "")
	return strings.TrimSpace(s) == ""
}

// detectLanguage is a coarse codepoint-range heuristic, not a language
// model: Arabic-range share above the threshold tags ar, any Latin letters
// tag en, anything else is unknown.
func detectLanguage(s string) domain.Language {
	var letters, arabic, latin int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case r >= 0x0600 && r <= 0x06FF:
			arabic++
		case unicode.In(r, unicode.Latin):
			latin++
		}
	}
	if letters == 0 {
		return domain.LangUnknown
	}
	if float64(arabic)/float64(letters) > arabicShareThreshold {
		return domain.LangArabic
	}
	if latin > 0 {
		return domain.LangEnglish
	}
	return domain.LangUnknown
}
