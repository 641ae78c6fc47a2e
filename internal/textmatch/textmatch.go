// Package textmatch holds the keyword and tag predicates used to filter
// tickets, plus the plain-text view of comment HTML they operate on.
package textmatch

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Mode selects how MatchKeywords combines its terms.
type Mode string

const (
	ModeAny    Mode = "any"    // any term is a substring
	ModeAll    Mode = "all"    // every term is a substring
	ModePhrase Mode = "phrase" // any full phrase is a substring
	ModeRegex  Mode = "regex"  // any pattern matches, case-insensitive
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace to single spaces.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// ParseMode maps a user-supplied mode name to a Mode.
// Unknown names are returned as-is so MatchKeywords can treat them permissively.
func ParseMode(s string) Mode {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeAny
	}
	return Mode(s)
}

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeAny, ModeAll, ModePhrase, ModeRegex:
		return true
	}
	return false
}

// MatchKeywords reports whether text satisfies terms under mode.
// Empty terms match everything, as does an unknown mode. A regex term that
// fails to compile never matches.
func MatchKeywords(text string, terms []string, mode Mode) bool {
	if len(terms) == 0 {
		return true
	}
	t := Normalize(text)

	switch mode {
	case ModeRegex:
		for _, p := range terms {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				continue
			}
			if re.MatchString(t) {
				return true
			}
		}
		return false
	case ModeAny, ModePhrase:
		for _, w := range terms {
			if strings.Contains(t, strings.ToLower(w)) {
				return true
			}
		}
		return false
	case ModeAll:
		for _, w := range terms {
			if !strings.Contains(t, strings.ToLower(w)) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// ParseKeywordList splits a comma- or whitespace-separated keyword string.
// When the input contains a comma, commas alone separate terms so that
// multi-word phrases survive.
func ParseKeywordList(s string) []string {
	var parts []string
	if strings.Contains(s, ",") {
		parts = strings.Split(s, ",")
	} else {
		parts = strings.Fields(s)
	}
	return cleanList(parts, false)
}

// ParseTagList splits a comma- or whitespace-separated tag string into
// lower-cased tags.
func ParseTagList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return cleanList(parts, true)
}

// TagsAllowed reports whether a ticket's tags pass the include/exclude filters.
// Any excluded tag rejects; a non-empty include list requires at least one hit.
func TagsAllowed(tags, include, exclude []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[strings.ToLower(t)] = true
	}
	for _, x := range exclude {
		if set[strings.ToLower(x)] {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, in := range include {
		if set[strings.ToLower(in)] {
			return true
		}
	}
	return false
}

// Highlight wraps every case-insensitive literal occurrence of each term in
// markdown bold markers.
func Highlight(text string, terms []string) string {
	if text == "" || len(terms) == 0 {
		return text
	}
	out := text
	for _, term := range terms {
		if term == "" {
			continue
		}
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
		out = re.ReplaceAllString(out, "**${0}**")
	}
	return out
}

var (
	strictPolicy = bluemonday.StrictPolicy()
	blockBreak   = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6]|/tr|/blockquote)\s*/?>`)
)

// PlainText strips markup from a comment body and unescapes entities.
// Block-level closers become newlines so adjacent paragraphs don't fuse.
func PlainText(body string) string {
	if !strings.ContainsAny(body, "<&") {
		return body
	}
	s := blockBreak.ReplaceAllString(body, "\n")
	s = strictPolicy.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(s))
}

func cleanList(parts []string, lower bool) []string {
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if lower {
			p = strings.ToLower(p)
		}
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
