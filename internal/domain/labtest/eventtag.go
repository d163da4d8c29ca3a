package labtest

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	cyclePattern = regexp.MustCompile(`C(\d+)`)
	dayPattern   = regexp.MustCompile(`D(\d+)`)
)

// EventTag is the structured reading of a free-text event label such as
// "FOLFIRI C2 D11". It is always derived from Record's event text.
type EventTag struct {
	Cycle     *int     `json:"cycle"`
	Day       *int     `json:"day"`
	RawTokens []string `json:"rawTokens"`
	Scheme    *string  `json:"scheme"`
}

// ParseEventTag extracts scheme, cycle, day and leftover tokens from text.
// It never fails; text without recognisable parts yields only raw tokens.
func ParseEventTag(text string) EventTag {
	text = strings.TrimSpace(text)
	tag := EventTag{RawTokens: []string{}}

	working := text
	if scheme := leadingScheme(text); scheme != "" {
		tag.Scheme = &scheme
		working = strings.TrimPrefix(working, scheme)
	}
	tag.Cycle = firstNumber(cyclePattern, text)
	tag.Day = firstNumber(dayPattern, text)

	working = cyclePattern.ReplaceAllString(working, "")
	working = dayPattern.ReplaceAllString(working, "")

	for _, tok := range strings.Fields(working) {
		tok = strings.TrimFunc(tok, unicode.IsPunct)
		if tok != "" {
			tag.RawTokens = append(tag.RawTokens, tok)
		}
	}
	return tag
}

// leadingScheme returns the maximal leading run of ASCII uppercase letters.
// A lone C or D glued to digits is a cycle or day marker ("C2", "D11"), not
// a scheme; longer runs such as "FOLFOX6" keep their letters as the scheme.
func leadingScheme(text string) string {
	n := 0
	for n < len(text) && text[n] >= 'A' && text[n] <= 'Z' {
		n++
	}
	if n == 0 {
		return ""
	}
	run := text[:n]
	if (run == "C" || run == "D") && n < len(text) && text[n] >= '0' && text[n] <= '9' {
		return ""
	}
	return run
}

func firstNumber(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// DisplayText rebuilds a canonical label: scheme, C<cycle>, D<day>, then the
// raw tokens. It does not necessarily reproduce the original text.
func (t EventTag) DisplayText() string {
	var parts []string
	if t.Scheme != nil {
		parts = append(parts, *t.Scheme)
	}
	if t.Cycle != nil {
		parts = append(parts, "C"+strconv.Itoa(*t.Cycle))
	}
	if t.Day != nil {
		parts = append(parts, "D"+strconv.Itoa(*t.Day))
	}
	parts = append(parts, t.RawTokens...)
	return strings.Join(parts, " ")
}

// IsEmpty reports whether nothing was extracted.
func (t EventTag) IsEmpty() bool {
	return t.Scheme == nil && t.Cycle == nil && t.Day == nil && len(t.RawTokens) == 0
}

// Equal compares tags by value.
func (t EventTag) Equal(o EventTag) bool {
	if !equalStringPtr(t.Scheme, o.Scheme) || !equalIntPtr(t.Cycle, o.Cycle) || !equalIntPtr(t.Day, o.Day) {
		return false
	}
	if len(t.RawTokens) != len(o.RawTokens) {
		return false
	}
	for i := range t.RawTokens {
		if t.RawTokens[i] != o.RawTokens[i] {
			return false
		}
	}
	return true
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
