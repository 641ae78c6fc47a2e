package helpdesk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// searchTimeLayout is the timestamp form the search endpoint accepts:
// UTC, second precision, literal Z.
const searchTimeLayout = "2006-01-02T15:04:05Z"

// SearchQuery builds the query for solved tickets updated in [start, end).
func SearchQuery(start, end time.Time) string {
	return fmt.Sprintf(`type:ticket status:solved updated>="%s" updated<"%s"`,
		start.UTC().Format(searchTimeLayout), end.UTC().Format(searchTimeLayout))
}

// SearchSolvedTicketIDs returns an iterator over the ids of solved tickets
// updated in [start, end). Pages are fetched lazily by following next_page.
func (c *Client) SearchSolvedTicketIDs(start, end time.Time) *SearchIterator {
	q := url.Values{}
	q.Set("query", SearchQuery(start, end))
	q.Set("page", "1")
	return &SearchIterator{client: c, next: "/search.json", query: q}
}

// SearchSolved returns the ids of every solved ticket updated in
// [start, end), in result order across all pages.
func (c *Client) SearchSolved(ctx context.Context, start, end time.Time) ([]int64, error) {
	return c.SearchSolvedTicketIDs(start, end).Collect(ctx)
}

// GetTicket fetches one ticket.
func (c *Client) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	var env ticketEnvelope
	if err := c.Fetch(ctx, "/tickets/"+strconv.FormatInt(id, 10)+".json", nil, &env); err != nil {
		return nil, err
	}
	return &env.Ticket, nil
}

// GetComments fetches a ticket's full thread, public and private, in
// thread order.
func (c *Client) GetComments(ctx context.Context, ticketID int64) ([]Comment, error) {
	var all []Comment
	next := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/comments.json"
	for next != "" {
		var env commentsEnvelope
		if err := c.Fetch(ctx, next, nil, &env); err != nil {
			return nil, err
		}
		all = append(all, env.Comments...)
		next = deref(env.NextPage)
	}
	return all, nil
}

// GetAudits fetches a ticket's audit history.
func (c *Client) GetAudits(ctx context.Context, ticketID int64) ([]Audit, error) {
	var all []Audit
	next := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/audits.json"
	for next != "" {
		var env auditsEnvelope
		if err := c.Fetch(ctx, next, nil, &env); err != nil {
			return nil, err
		}
		all = append(all, env.Audits...)
		next = deref(env.NextPage)
	}
	return all, nil
}

// GetUser fetches one user. A response without a user object yields nil.
func (c *Client) GetUser(ctx context.Context, id int64) (*User, error) {
	var env userEnvelope
	if err := c.Fetch(ctx, "/users/"+strconv.FormatInt(id, 10)+".json", nil, &env); err != nil {
		return nil, err
	}
	return env.User, nil
}

// GetGroup fetches one group. A response without a group object yields nil.
func (c *Client) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var env groupEnvelope
	if err := c.Fetch(ctx, "/groups/"+strconv.FormatInt(id, 10)+".json", nil, &env); err != nil {
		return nil, err
	}
	return env.Group, nil
}

// GetGroupMemberships lists the group memberships of a user.
func (c *Client) GetGroupMemberships(ctx context.Context, userID int64) ([]GroupMembership, error) {
	var all []GroupMembership
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	next := "/group_memberships.json"
	for next != "" {
		var env membershipsEnvelope
		if err := c.Fetch(ctx, next, q, &env); err != nil {
			return nil, err
		}
		all = append(all, env.GroupMemberships...)
		next, q = deref(env.NextPage), nil
	}
	return all, nil
}

// SearchIterator lazily walks the pages of a search. It is not safe for
// concurrent use.
type SearchIterator struct {
	client *Client
	next   string
	query  url.Values
	done   bool
}

// Next fetches the next page and returns its ticket ids, skipping results
// of other types. It returns nil, nil when all pages have been consumed.
// A page may legitimately contain no ticket ids; callers should keep
// calling until Done reports true.
func (it *SearchIterator) Next(ctx context.Context) ([]int64, error) {
	if it.done {
		return nil, nil
	}

	var page searchPage
	if err := it.client.Fetch(ctx, it.next, it.query, &page); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(page.Results))
	for _, r := range page.Results {
		if r.ResultType == "ticket" && r.ID != 0 {
			ids = append(ids, r.ID)
		}
	}

	it.next, it.query = deref(page.NextPage), nil
	if it.next == "" {
		it.done = true
	}
	return ids, nil
}

// Done reports whether the last page has been consumed.
func (it *SearchIterator) Done() bool {
	return it.done
}

// Collect fetches all remaining pages and returns the ids concatenated.
func (it *SearchIterator) Collect(ctx context.Context) ([]int64, error) {
	var all []int64
	for !it.done {
		ids, err := it.Next(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, ids...)
	}
	return all, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
