package scoring

import (
	"regexp"
	"slices"
	"strings"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/textmatch"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// Lexicon holds the word lists DeriveSignals matches against.
type Lexicon struct {
	Sensitive      []string
	Empathy        []string
	Complaint      []string
	TrivialTags    []string
	HighValueTiers []string

	// BotEmails are automation accounts whose replies are not agent replies.
	BotEmails []string
}

// LexiconFromConfig copies the configured word lists.
func LexiconFromConfig(cfg *config.Config) Lexicon {
	return Lexicon{
		Sensitive:      cfg.SensitiveKeywords,
		Empathy:        cfg.EmpathyMarkers,
		Complaint:      cfg.ComplaintWords,
		TrivialTags:    cfg.TrivialTags,
		HighValueTiers: cfg.HighValueTiers,
		BotEmails:      cfg.BotEmails,
	}
}

// DeriveSignals computes the text-derived signals for t from stored data.
// Only public comments are read; bodies are reduced to plain text first.
// Macro mismatch has no derivation and is always false.
func DeriveSignals(t *ticket.Ticket, thread []ticket.Comment, lex Lexicon) Signals {
	var all, requester []string
	all = append(all, t.Subject)

	var agentReply string
	foundReply := false
	for _, c := range ticket.PublicComments(thread) {
		body := textmatch.PlainText(c.Body)
		all = append(all, body)
		if isRequester(t, c) {
			requester = append(requester, body)
			continue
		}
		if !foundReply && isHumanAgent(c, lex.BotEmails) {
			agentReply = body
			foundReply = true
		}
	}
	requesterText := strings.Join(requester, "\n")
	tags := t.TagList()

	s := Signals{
		SensitiveHit:    containsAny(strings.Join(all, "\n"), lex.Sensitive),
		Complaint:       IsComplaint(requesterText, lex.Complaint),
		Reopened:        t.Reopened,
		MultiTopic:      len(tags) >= MultiTopicMin,
		Personalization: PersonalizationOverlap(requesterText, agentReply, OverlapMinimum),
		Empathy:         HasEmpathy(agentReply, lex.Empathy),
		EasyOnly:        allTrivial(tags, lex.TrivialTags),
	}
	if t.PayerTier != nil {
		s.HighValueTier = slices.ContainsFunc(lex.HighValueTiers, func(tier string) bool {
			return strings.EqualFold(tier, *t.PayerTier)
		})
	}
	return s
}

// isHumanAgent applies the ingest rule for human interaction: the author
// has an email and it is not an automation account.
func isHumanAgent(c ticket.Comment, bots []string) bool {
	email := strings.TrimSpace(c.AuthorEmail)
	if email == "" {
		return false
	}
	return !slices.ContainsFunc(bots, func(b string) bool { return strings.EqualFold(b, email) })
}

func isRequester(t *ticket.Ticket, c ticket.Comment) bool {
	if t.RequesterID != nil && c.AuthorID != nil && *t.RequesterID == *c.AuthorID {
		return true
	}
	return t.RequesterEmail != "" && strings.EqualFold(t.RequesterEmail, c.AuthorEmail)
}

// IsComplaint reports whether text contains any complaint word, ignoring case.
func IsComplaint(text string, words []string) bool {
	return containsAny(text, words)
}

// HasEmpathy reports whether an agent reply contains an empathy marker.
func HasEmpathy(reply string, markers []string) bool {
	return containsAny(reply, markers)
}

// PersonalizationOverlap reports whether the top terms of the requester's
// text and the agent's reply overlap by at least threshold (Jaccard).
func PersonalizationOverlap(requesterText, agentReply string, threshold float64) bool {
	a := TopTerms(requesterText, TopTermsLimit)
	b := TopTerms(agentReply, TopTermsLimit)
	return Jaccard(a, b) >= threshold
}

var termRegex = regexp.MustCompile(`[a-z]{3,}`)

// TopTerms returns the limit most frequent alphabetic tokens of at least
// three letters. Ties keep first-seen order.
func TopTerms(text string, limit int) []string {
	type term struct {
		word  string
		count int
	}
	var terms []term
	index := make(map[string]int)
	for _, tok := range termRegex.FindAllString(strings.ToLower(text), -1) {
		if i, ok := index[tok]; ok {
			terms[i].count++
			continue
		}
		index[tok] = len(terms)
		terms = append(terms, term{word: tok, count: 1})
	}
	slices.SortStableFunc(terms, func(a, b term) int {
		return b.count - a.count
	})
	if limit >= 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.word
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct entries of a and b.
// It is 0 when either side is empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	union := len(set)
	inter := 0
	seenB := make(map[string]bool, len(b))
	for _, w := range b {
		if seenB[w] {
			continue
		}
		seenB[w] = true
		if set[w] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func containsAny(text string, words []string) bool {
	if text == "" {
		return false
	}
	low := strings.ToLower(text)
	for _, w := range words {
		if w != "" && strings.Contains(low, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// allTrivial reports whether tags is non-empty and every tag is in trivial.
func allTrivial(tags, trivial []string) bool {
	if len(tags) == 0 {
		return false
	}
	set := make(map[string]bool, len(trivial))
	for _, t := range trivial {
		set[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}
