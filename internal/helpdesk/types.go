package helpdesk

// Ticket is the remote ticket record.
type Ticket struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"`
	Subject            string              `json:"subject"`
	CreatedAt          string              `json:"created_at"`
	UpdatedAt          string              `json:"updated_at"`
	RequesterID        *int64              `json:"requester_id"`
	AssigneeID         *int64              `json:"assignee_id"`
	GroupID            *int64              `json:"group_id"`
	Tags               []string            `json:"tags"`
	CustomFields       []CustomField       `json:"custom_fields"`
	SatisfactionRating *SatisfactionRating `json:"satisfaction_rating"`
}

// CustomField is one entry in a ticket's generic field list.
type CustomField struct {
	ID    int64 `json:"id"`
	Value any   `json:"value"`
}

// SatisfactionRating carries a score that may be numeric or a vendor word
// such as "good", "bad" or "offered".
type SatisfactionRating struct {
	Score   any    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// Comment is one thread entry.
type Comment struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	AuthorID  *int64 `json:"author_id"`
	Body      string `json:"body"`
	HTMLBody  string `json:"html_body"`
	Public    bool   `json:"public"`
	CreatedAt string `json:"created_at"`
}

// Text returns the HTML body when present, else the plain body.
func (c *Comment) Text() string {
	if c.HTMLBody != "" {
		return c.HTMLBody
	}
	return c.Body
}

// Audit is one entry of a ticket's change history.
type Audit struct {
	ID        int64        `json:"id"`
	TicketID  int64        `json:"ticket_id"`
	CreatedAt string       `json:"created_at"`
	AuthorID  *int64       `json:"author_id"`
	Events    []AuditEvent `json:"events"`
}

// Audit event types used by ingestion.
const (
	EventApplyMacro = "ApplyMacro"
	EventChange     = "Change"
)

// AuditEvent is a single change inside an audit. Value and PreviousValue
// are untyped because the helpdesk uses strings, numbers and lists.
type AuditEvent struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	FieldName     string `json:"field_name"`
	Value         any    `json:"value"`
	PreviousValue any    `json:"previous_value"`
	MacroTitle    string `json:"macro_title"`
}

// MacroName returns the title of an applied macro: the event's string
// value, falling back to macro_title.
func (e *AuditEvent) MacroName() string {
	if s, ok := e.Value.(string); ok && s != "" {
		return s
	}
	return e.MacroTitle
}

// User is a helpdesk account.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Group is an agent team.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GroupMembership links a user to a group.
type GroupMembership struct {
	ID      int64 `json:"id"`
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

// SearchResult is one hit of the search endpoint.
type SearchResult struct {
	ID         int64  `json:"id"`
	ResultType string `json:"result_type"`
}

type searchPage struct {
	Results  []SearchResult `json:"results"`
	NextPage *string        `json:"next_page"`
	Count    int            `json:"count"`
}

type ticketEnvelope struct {
	Ticket Ticket `json:"ticket"`
}

type commentsEnvelope struct {
	Comments []Comment `json:"comments"`
	NextPage *string   `json:"next_page"`
}

type auditsEnvelope struct {
	Audits   []Audit `json:"audits"`
	NextPage *string `json:"next_page"`
}

type userEnvelope struct {
	User *User `json:"user"`
}

type groupEnvelope struct {
	Group *Group `json:"group"`
}

type membershipsEnvelope struct {
	GroupMemberships []GroupMembership `json:"group_memberships"`
	NextPage         *string           `json:"next_page"`
}
