// Package identity resolves helpdesk users and groups with run-scoped
// memoization and derives the BPO vendor label from group membership.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/logging"
)

// UnknownName is the display name of stub users.
const UnknownName = "Unknown"

// Directory is the subset of the helpdesk API the resolver needs.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*helpdesk.User, error)
	GetGroup(ctx context.Context, id int64) (*helpdesk.Group, error)
	GetGroupMemberships(ctx context.Context, userID int64) ([]helpdesk.GroupMembership, error)
}

// User is a resolved identity. Email is lower-cased.
type User struct {
	ID    int64
	Email string
	Name  string
}

// Stats counts cache traffic for one run.
type Stats struct {
	UserHits    int `json:"user_hits"`
	UserMisses  int `json:"user_misses"`
	GroupHits   int `json:"group_hits"`
	GroupMisses int `json:"group_misses"`
	Stubs       int `json:"stubs"`
}

// Resolver memoizes user and group lookups for the lifetime of one ingest
// run. It is safe for concurrent use.
type Resolver struct {
	dir    Directory
	logger *slog.Logger

	mu     sync.Mutex
	users  map[int64]User
	groups map[int64]string
	stats  Stats
}

// NewResolver creates an empty resolver over dir.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		logger: logging.OrDefault(logger),
		users:  make(map[int64]User),
		groups: make(map[int64]string),
	}
}

// Stub returns the placeholder for system or unknown authors.
func Stub(id int64) User {
	return User{ID: id, Name: UnknownName}
}

// User resolves id. A nil or non-positive id returns a stub without a
// remote call; so does a remote 400 or 404. Other failures propagate.
func (r *Resolver) User(ctx context.Context, id *int64) (User, error) {
	if id == nil || *id <= 0 {
		var raw int64
		if id != nil {
			raw = *id
		}
		r.count(func(s *Stats) { s.Stubs++ })
		return Stub(raw), nil
	}

	r.mu.Lock()
	if u, ok := r.users[*id]; ok {
		r.stats.UserHits++
		r.mu.Unlock()
		return u, nil
	}
	r.stats.UserMisses++
	r.mu.Unlock()

	remote, err := r.dir.GetUser(ctx, *id)
	var u User
	switch {
	case err != nil:
		status := helpdesk.StatusCode(err)
		if status != 400 && status != 404 {
			return User{}, err
		}
		r.logger.Debug("user lookup degraded to stub", "user_id", *id, "status", status)
		r.count(func(s *Stats) { s.Stubs++ })
		u = Stub(*id)
	case remote == nil:
		u = Stub(*id)
	default:
		u = User{ID: remote.ID, Email: strings.ToLower(strings.TrimSpace(remote.Email)), Name: remote.Name}
		if u.ID == 0 {
			u.ID = *id
		}
		if u.Name == "" {
			u.Name = UnknownName
		}
	}

	r.mu.Lock()
	r.users[*id] = u
	r.mu.Unlock()
	return u, nil
}

// GroupName resolves a group id to its name. Empty means unnamed.
func (r *Resolver) GroupName(ctx context.Context, id int64) (string, error) {
	r.mu.Lock()
	if name, ok := r.groups[id]; ok {
		r.stats.GroupHits++
		r.mu.Unlock()
		return name, nil
	}
	r.stats.GroupMisses++
	r.mu.Unlock()

	g, err := r.dir.GetGroup(ctx, id)
	if err != nil {
		return "", err
	}
	var name string
	if g != nil {
		name = g.Name
	}

	r.mu.Lock()
	r.groups[id] = name
	r.mu.Unlock()
	return name, nil
}

// GroupNames lists the names of the groups userID belongs to. A failure to
// list memberships propagates; a failure resolving an individual group is
// logged and that group is omitted.
func (r *Resolver) GroupNames(ctx context.Context, userID int64) ([]string, error) {
	memberships, err := r.dir.GetGroupMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range memberships {
		if m.GroupID == 0 {
			continue
		}
		name, err := r.GroupName(ctx, m.GroupID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("group lookup failed, omitting", "group_id", m.GroupID, "error", err)
			continue
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Resolver) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// ClassifyBPO derives the vendor label from group names: the names are
// joined and lower-cased, then rules are tried in order and the first rule
// with a matching fragment wins. No match yields nil.
func ClassifyBPO(groupNames []string, rules []config.BPORule) *string {
	lowered := make([]string, len(groupNames))
	for i, g := range groupNames {
		lowered[i] = strings.ToLower(g)
	}
	joined := strings.Join(lowered, " ")
	if joined == "" {
		return nil
	}

	for _, rule := range rules {
		for _, frag := range rule.Fragments {
			if frag == "" {
				continue
			}
			if strings.Contains(joined, strings.ToLower(frag)) {
				label := rule.Label
				return &label
			}
		}
	}
	return nil
}
