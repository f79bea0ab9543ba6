// Package names guesses a human-friendly customer name from free-text
// message content or from a platform display name. Both paths are advisory:
// they produce suggestions, never forced overwrites, and callers only apply
// them to empty fields.
package names

import (
	"regexp"
	"strings"
	"unicode"
)

// Source tags where a suggestion came from.
type Source string

const (
	SourceMessage Source = "message"
	SourceProfile Source = "profile"
)

// Confidence tiers decide whether a suggestion is auto-filled into an empty
// group display name or only surfaced for operator review.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Suggestion is a candidate name with its provenance.
type Suggestion struct {
	Name       string
	Source     Source
	Confidence Confidence
}

// messagePattern is one self-introduction rule applied to message text.
// Patterns are ordered; the first match with a valid capture wins.
type messagePattern struct {
	re         *regexp.Regexp
	confidence Confidence
}

var messagePatterns = []messagePattern{
	{regexp.MustCompile(`我是([^，。！？\s]+)`), ConfidenceHigh},
	{regexp.MustCompile(`這是([^，。！？\s]+)`), ConfidenceHigh},
	{regexp.MustCompile(`叫我([^，。！？\s]+)`), ConfidenceHigh},
	// A message that is nothing but a plausible name token.
	{regexp.MustCompile(`^([A-Za-z0-9\p{Han}/\-_+()（）]+)$`), ConfidenceLow},
}

// stopwords are common words that match the bare-token pattern but are
// never names.
var stopwords = map[string]struct{}{
	"今天": {},
	"昨天": {},
	"明天": {},
	"什麼": {},
	"怎麼": {},
	"哪裡": {},
	"這樣": {},
	"那樣": {},
	"好的": {},
	"謝謝": {},
}

const (
	minMessageNameLen = 2
	maxMessageNameLen = 29
	minProfileNameLen = 2
	maxProfileNameLen = 10
)

// FromMessage applies the self-introduction patterns to message text and
// returns the first captured token that passes the length and stopword
// checks.
func FromMessage(text string) (Suggestion, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Suggestion{}, false
	}

	for _, p := range messagePatterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		candidate := strings.TrimSpace(match[1])
		n := len([]rune(candidate))
		if n < minMessageNameLen || n > maxMessageNameLen {
			continue
		}
		if _, stopped := stopwords[candidate]; stopped {
			continue
		}

		return Suggestion{Name: candidate, Source: SourceMessage, Confidence: p.confidence}, true
	}

	return Suggestion{}, false
}

// suffixes stripped from the end of platform display names: device labels,
// family labels, and role suffixes. Only the first matching suffix is
// removed.
var displayNameSuffixes = []string{
	"-公用手機",
	"-手機",
	"的手機",
	"手機",
	"的媽媽",
	"的爸爸",
	"媽媽",
	"爸爸",
	"-客服",
	"-小編",
}

// profileRule is one display-name cleaning strategy with the confidence
// assigned to its result. Rules are evaluated in descending confidence
// order; the first rule producing a valid, changed name wins.
type profileRule struct {
	clean      func(string) string
	accept     func(string) bool
	confidence Confidence
}

var profileRules = []profileRule{
	// Suffix-stripped, remainder an exact short CJK name.
	{clean: stripSuffix, accept: isShortHanName, confidence: ConfidenceHigh},
	// Suffix-stripped, remainder anything plausible.
	{clean: stripSuffix, accept: func(string) bool { return true }, confidence: ConfidenceMedium},
	// Generic cleaning: trailing emoji and digits removed.
	{clean: stripTrailers, accept: func(string) bool { return true }, confidence: ConfidenceLow},
}

// FromDisplayName derives a candidate name from a platform display name by
// removing known suffix patterns. The cleaned result is only accepted when
// it differs from the original and its length stays within bounds.
func FromDisplayName(displayName string) (Suggestion, bool) {
	displayName = strings.TrimSpace(displayName)
	if len([]rune(displayName)) < minProfileNameLen {
		return Suggestion{}, false
	}

	for _, rule := range profileRules {
		cleaned := strings.TrimSpace(rule.clean(displayName))
		if cleaned == displayName || cleaned == "" {
			continue
		}

		n := len([]rune(cleaned))
		if n < minProfileNameLen || n > maxProfileNameLen {
			continue
		}
		if !rule.accept(cleaned) {
			continue
		}

		return Suggestion{Name: cleaned, Source: SourceProfile, Confidence: rule.confidence}, true
	}

	return Suggestion{}, false
}

func stripSuffix(name string) string {
	for _, suffix := range displayNameSuffixes {
		if name != suffix && strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// stripTrailers removes trailing emoji, digits, and separator punctuation.
func stripTrailers(name string) string {
	runes := []rune(name)
	i := len(runes)
	for i > 0 {
		r := runes[i-1]
		if unicode.IsDigit(r) || unicode.IsSpace(r) || isEmoji(r) || r == '-' || r == '_' || r == '.' {
			i--
			continue
		}
		break
	}
	return string(runes[:i])
}

// isShortHanName reports whether s is a 2-4 rune pure CJK name.
func isShortHanName(s string) bool {
	runes := []rune(s)
	if len(runes) < 2 || len(runes) > 4 {
		return false
	}
	for _, r := range runes {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return true
}

func isEmoji(r rune) bool {
	return (r >= 0x1F300 && r <= 0x1FAFF) || // pictographs
		(r >= 0x2600 && r <= 0x27BF) || // misc symbols, dingbats
		(r >= 0xFE00 && r <= 0xFE0F) || // variation selectors
		r == 0x200D // zero-width joiner
}
