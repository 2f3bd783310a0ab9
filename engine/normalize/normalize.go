// Package normalize cleans raw report text into a canonical lowercase form
// suitable for statement synthesis, classification, and embedding. Cleaning
// never fails and is idempotent: cleaning already-clean text returns it
// unchanged.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxCleanLen bounds the cleaned text length in runes. Longer input is
// truncated at a word boundary.
const MaxCleanLen = 800

var (
	urlRe       = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+)`)
	subredditRe = regexp.MustCompile(`(?i)\br/[a-z0-9_]+`)
	bangRe      = regexp.MustCompile(`!{2,}`)
	spaceRe     = regexp.MustCompile(`\s+`)

	// Emotional filler phrases, stripped before single tokens so that
	// multi-word matches win.
	fillerPhraseRe = regexp.MustCompile(`\b(driving me crazy|i've been|i'm about to|really need|please help|anyone else|does anyone|help me)\b`)
	fillerWordRe   = regexp.MustCompile(`\b(why|damn|so|help|please|stupid|frustrated|ugh|argh)\b`)
)

// Clean normalizes raw text: strips URLs, subreddit references, markup and
// emoji, removes emotional filler tokens, lowercases, collapses whitespace,
// and truncates to MaxCleanLen. Empty input yields empty output.
func Clean(text string) string {
	return CleanWithLimit(text, MaxCleanLen)
}

// CleanWithLimit is Clean with an explicit rune limit.
func CleanWithLimit(text string, limit int) string {
	s := urlRe.ReplaceAllString(text, " ")
	s = subredditRe.ReplaceAllString(s, " ")
	s = stripMarkup(s)
	s = bangRe.ReplaceAllString(s, ".")
	s = strings.ToLower(s)
	s = fillerPhraseRe.ReplaceAllString(s, " ")
	s = fillerWordRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncateWords(s, limit)
}

// stripMarkup drops markdown control characters, bullets, and emoji.
func stripMarkup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case strings.ContainsRune("*_`>~•|", r): // '#' is kept: it carries meaning in tokens like c#
			b.WriteRune(' ')
		case unicode.Is(unicode.So, r): // emoji and misc symbols
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncateWords cuts s to at most limit runes, preferring a word boundary.
func truncateWords(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
