// Package helpdesktest provides an in-memory helpdesk API for tests.
package helpdesktest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/logging"
)

// Server serves the subset of the helpdesk API used by ingestion from
// in-memory records. Search returns every stored ticket whose updated_at
// falls in the queried range, by ascending id.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	tickets     map[int64]helpdesk.Ticket
	comments    map[int64][]helpdesk.Comment
	audits      map[int64][]helpdesk.Audit
	users       map[int64]helpdesk.User
	groups      map[int64]helpdesk.Group
	memberships map[int64][]helpdesk.GroupMembership
	failures    map[string]int
	hits        map[string]int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		tickets:     make(map[int64]helpdesk.Ticket),
		comments:    make(map[int64][]helpdesk.Comment),
		audits:      make(map[int64][]helpdesk.Audit),
		users:       make(map[int64]helpdesk.User),
		groups:      make(map[int64]helpdesk.Group),
		memberships: make(map[int64][]helpdesk.GroupMembership),
		failures:    make(map[string]int),
		hits:        make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to configure a client with.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v2"
}

// Client returns a helpdesk client bound to the server. Retries never sleep.
func (s *Server) Client(t testing.TB) *helpdesk.Client {
	t.Helper()
	c, err := helpdesk.NewClient(helpdesk.Config{
		BaseURL:     s.BaseURL(),
		Email:       "qa@example.com/token",
		Token:       "secret",
		HTTPClient:  s.Server.Client(),
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("helpdesktest: NewClient: %v", err)
	}
	return c
}

// AddUser registers an account and the groups it belongs to.
func (s *Server) AddUser(u helpdesk.User, groups ...helpdesk.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	for _, g := range groups {
		s.groups[g.ID] = g
		s.memberships[u.ID] = append(s.memberships[u.ID], helpdesk.GroupMembership{
			ID:      int64(len(s.memberships[u.ID]) + 1),
			UserID:  u.ID,
			GroupID: g.ID,
		})
	}
}

// AddTicket stores a ticket with its thread, replacing any earlier version.
func (s *Server) AddTicket(t helpdesk.Ticket, comments ...helpdesk.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
	s.comments[t.ID] = comments
}

// SetAudits replaces a ticket's audit history.
func (s *Server) SetAudits(ticketID int64, audits ...helpdesk.Audit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[ticketID] = audits
}

// Fail makes every request for path (relative to the API root, e.g.
// "/tickets/7.json") answer with status.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

var (
	ticketPath = regexp.MustCompile(`^/tickets/(\d+)(/comments|/audits)?\.json$`)
	userPath   = regexp.MustCompile(`^/users/(\d+)\.json$`)
	groupPath  = regexp.MustCompile(`^/groups/(\d+)\.json$`)
	rangeQuery = regexp.MustCompile(`updated>="([^"]+)" updated<"([^"]+)"`)
)

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v2")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[path]++

	if status, ok := s.failures[path]; ok {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": "forced failure", "description": "status %d"}`, status)
		return
	}

	switch {
	case path == "/search.json":
		s.search(w, r.URL.Query().Get("query"))
	case path == "/group_memberships.json":
		id, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		writeJSON(w, map[string]any{"group_memberships": nonNil(s.memberships[id]), "next_page": nil})
	case ticketPath.MatchString(path):
		m := ticketPath.FindStringSubmatch(path)
		id, _ := strconv.ParseInt(m[1], 10, 64)
		t, ok := s.tickets[id]
		if !ok {
			notFound(w)
			return
		}
		switch m[2] {
		case "/comments":
			writeJSON(w, map[string]any{"comments": nonNil(s.comments[id]), "next_page": nil})
		case "/audits":
			writeJSON(w, map[string]any{"audits": nonNil(s.audits[id]), "next_page": nil})
		default:
			writeJSON(w, map[string]any{"ticket": t})
		}
	case userPath.MatchString(path):
		id, _ := strconv.ParseInt(userPath.FindStringSubmatch(path)[1], 10, 64)
		u, ok := s.users[id]
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, map[string]any{"user": u})
	case groupPath.MatchString(path):
		id, _ := strconv.ParseInt(groupPath.FindStringSubmatch(path)[1], 10, 64)
		g, ok := s.groups[id]
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, map[string]any{"group": g})
	default:
		notFound(w)
	}
}

func (s *Server) search(w http.ResponseWriter, query string) {
	m := rangeQuery.FindStringSubmatch(query)
	if m == nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "InvalidQuery"}`))
		return
	}
	from, err1 := time.Parse(time.RFC3339, m[1])
	to, err2 := time.Parse(time.RFC3339, m[2])
	if err1 != nil || err2 != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "InvalidQuery"}`))
		return
	}

	ids := make([]int64, 0, len(s.tickets))
	for id, t := range s.tickets {
		updated, err := time.Parse(time.RFC3339, t.UpdatedAt)
		if err != nil || updated.Before(from) || !updated.Before(to) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	results := make([]helpdesk.SearchResult, len(ids))
	for i, id := range ids {
		results[i] = helpdesk.SearchResult{ID: id, ResultType: "ticket"}
	}
	writeJSON(w, map[string]any{"results": results, "next_page": nil, "count": len(results)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error": "RecordNotFound", "description": "Not found"}`))
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
