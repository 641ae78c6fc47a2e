// Package scoring ranks tickets for QA review with a weighted rule table.
//
// Score is pure: the same ticket, thread, weights and signals always yield
// the same score and the same reason list. Signals that need text analysis
// are computed separately by DeriveSignals.
package scoring

import (
	"cmp"
	"slices"

	"github.com/hpungsan/qafinder/internal/ticket"
)

// Rule names, also the keys accepted in configured weight overrides.
const (
	RuleLowCSAT         = "low_csat"
	RuleSensitive       = "sensitive"
	RuleMultiAgents     = "multi_agents"
	RuleVIPComplaint    = "vip_complaint"
	RuleReopened        = "reopened"
	RuleMacroMismatch   = "macro_mismatch"
	RuleLongThread      = "long_thread"
	RuleMultiTopic      = "multi_topic"
	RulePersonalization = "excellent_personalization"
	RuleEmpathy         = "empathy"
	RuleEasyIssue       = "easy_issue_penalty"
)

// Thresholds used by the thread-shape rules.
const (
	LowCSATMax     = 2
	HighCSATMin    = 5
	MultiAgentsMin = 3 // distinct public authors
	LongThreadMin  = 5 // public comments
	MultiTopicMin  = 5 // tags
	TopTermsLimit  = 12
	OverlapMinimum = 0.1
)

// Weights holds one weight per rule.
type Weights struct {
	LowCSAT         int `json:"low_csat"`
	Sensitive       int `json:"sensitive"`
	MultiAgents     int `json:"multi_agents"`
	VIPComplaint    int `json:"vip_complaint"`
	Reopened        int `json:"reopened"`
	MacroMismatch   int `json:"macro_mismatch"`
	LongThread      int `json:"long_thread"`
	MultiTopic      int `json:"multi_topic"`
	Personalization int `json:"excellent_personalization"`
	Empathy         int `json:"empathy"`
	EasyIssue       int `json:"easy_issue_penalty"`
}

// DefaultWeights returns the stock weight table.
func DefaultWeights() Weights {
	return Weights{
		LowCSAT:         15,
		Sensitive:       20,
		MultiAgents:     10,
		VIPComplaint:    15,
		Reopened:        10,
		MacroMismatch:   10,
		LongThread:      8,
		MultiTopic:      8,
		Personalization: 20,
		Empathy:         5,
		EasyIssue:       -20,
	}
}

// Merge returns w with overrides applied by rule name. Unknown names are ignored.
func (w Weights) Merge(overrides map[string]int) Weights {
	for name, v := range overrides {
		if p := w.field(name); p != nil {
			*p = v
		}
	}
	return w
}

func (w *Weights) field(name string) *int {
	switch name {
	case RuleLowCSAT:
		return &w.LowCSAT
	case RuleSensitive:
		return &w.Sensitive
	case RuleMultiAgents:
		return &w.MultiAgents
	case RuleVIPComplaint:
		return &w.VIPComplaint
	case RuleReopened:
		return &w.Reopened
	case RuleMacroMismatch:
		return &w.MacroMismatch
	case RuleLongThread:
		return &w.LongThread
	case RuleMultiTopic:
		return &w.MultiTopic
	case RulePersonalization:
		return &w.Personalization
	case RuleEmpathy:
		return &w.Empathy
	case RuleEasyIssue:
		return &w.EasyIssue
	}
	return nil
}

// Signals are the derived booleans Score consumes alongside the thread.
type Signals struct {
	SensitiveHit    bool `json:"sensitive_hit"`
	Complaint       bool `json:"complaint"`
	HighValueTier   bool `json:"high_value_tier"`
	Reopened        bool `json:"reopened"`
	MacroMismatch   bool `json:"macro_mismatch"`
	MultiTopic      bool `json:"multi_topic"`
	Personalization bool `json:"personalization"`
	Empathy         bool `json:"empathy"`
	EasyOnly        bool `json:"easy_only"`
}

// Result is a ticket's score with the labels of every rule that fired,
// in rule order.
type Result struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// Score evaluates the rule table against t and its thread.
func Score(t *ticket.Ticket, thread []ticket.Comment, w Weights, s Signals) Result {
	r := Result{Reasons: []string{}}
	add := func(weight int, reason string) {
		r.Score += weight
		r.Reasons = append(r.Reasons, reason)
	}

	if t.CSAT != nil && *t.CSAT <= LowCSATMax {
		add(w.LowCSAT, "Low CSAT")
	}
	if s.SensitiveHit {
		add(w.Sensitive, "Sensitive keyword")
	}
	if distinctPublicAuthors(thread) >= MultiAgentsMin {
		add(w.MultiAgents, "Multiple authors")
	}
	if s.HighValueTier && s.Complaint {
		add(w.VIPComplaint, "VIP complaint")
	}
	if s.Reopened {
		add(w.Reopened, "Reopened")
	}
	if s.MacroMismatch {
		add(w.MacroMismatch, "Macro–topic mismatch")
	}
	if len(ticket.PublicComments(thread)) >= LongThreadMin {
		add(w.LongThread, "Long thread")
	}
	if s.MultiTopic {
		add(w.MultiTopic, "Multi-topic")
	}
	if t.CSAT != nil && *t.CSAT >= HighCSATMin && s.Personalization {
		add(w.Personalization, "Personalized & positive")
	}
	if s.Empathy {
		add(w.Empathy, "Empathy")
	}
	if s.EasyOnly && !s.SensitiveHit {
		add(w.EasyIssue, "Easy tech-only")
	}
	return r
}

func distinctPublicAuthors(thread []ticket.Comment) int {
	seen := make(map[string]struct{})
	for _, c := range thread {
		if c.Public && c.AuthorEmail != "" {
			seen[c.AuthorEmail] = struct{}{}
		}
	}
	return len(seen)
}

// Rank sorts items by score, highest first. Equal scores keep their
// incoming order.
func Rank[T any](items []T, score func(T) int) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(score(b), score(a))
	})
}
