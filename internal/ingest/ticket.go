package ingest

import (
	"context"
	"strings"

	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/identity"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// processTicket fetches, filters, enriches and stores one ticket. It
// returns the skip reason when an exclusion rule applies; nothing is
// written in that case.
func (in *Ingester) processTicket(ctx context.Context, res *identity.Resolver, id int64) (string, error) {
	remote, err := in.Remote.GetTicket(ctx, id)
	if err != nil {
		return "", err
	}
	if remote.ID == 0 {
		remote.ID = id
	}

	if remote.AssigneeID == nil || *remote.AssigneeID <= 0 {
		return SkipUnassigned, nil
	}

	requester, err := res.User(ctx, remote.RequesterID)
	if err != nil {
		return "", err
	}
	assignee, err := res.User(ctx, remote.AssigneeID)
	if err != nil {
		return "", err
	}
	if in.Config.IsBot(assignee.Email) {
		return SkipBotAssignee, nil
	}

	comments, err := in.Remote.GetComments(ctx, remote.ID)
	if err != nil {
		return "", err
	}
	thread := make([]ticket.Comment, 0, len(comments))
	humanReply := false
	for idx, c := range comments {
		author, err := res.User(ctx, c.AuthorID)
		if err != nil {
			return "", err
		}
		thread = append(thread, ticket.Comment{
			TicketID:    remote.ID,
			Idx:         idx,
			CreatedAt:   c.CreatedAt,
			Public:      c.Public,
			AuthorID:    c.AuthorID,
			AuthorEmail: author.Email,
			AuthorName:  author.Name,
			Body:        c.Text(),
		})
		if c.Public && author.Email != "" && !in.Config.IsBot(author.Email) && author.Email != requester.Email {
			humanReply = true
		}
	}
	if !humanReply {
		return SkipNoHumanReply, nil
	}

	audits, err := in.Remote.GetAudits(ctx, remote.ID)
	if err != nil {
		return "", err
	}
	macros, reopened := scanAudits(audits)

	groups, err := res.GroupNames(ctx, *remote.AssigneeID)
	if err != nil {
		return "", err
	}

	w := &db.TicketWrite{
		Ticket:   buildTicket(remote, requester, assignee, in.Config.CustomFields),
		Comments: thread,
	}
	w.Ticket.BPO = identity.ClassifyBPO(groups, in.Config.BPORules)
	w.Ticket.Reopened = reopened
	if len(macros) > 0 {
		w.Audit = &ticket.AuditAnnotation{
			TicketID:    remote.ID,
			CreatedAt:   remote.UpdatedAt,
			MacroTitles: ticket.JoinMacroTitles(macros),
		}
	}

	if err := db.WriteTicket(ctx, in.DB, w); err != nil {
		return "", err
	}
	return "", nil
}

func buildTicket(remote *helpdesk.Ticket, requester, assignee identity.User, fieldIDs map[string]int64) ticket.Ticket {
	values := make([]ticket.FieldValue, len(remote.CustomFields))
	for i, f := range remote.CustomFields {
		values[i] = ticket.FieldValue{ID: f.ID, Value: f.Value}
	}
	fields := ticket.NewFieldBag(ticket.FieldMap(fieldIDs), values)

	// Only solved tickets are searched; their updated_at stands in for the solve time.
	solvedAt := remote.UpdatedAt

	t := ticket.Ticket{
		ID:             remote.ID,
		Status:         remote.Status,
		Subject:        remote.Subject,
		CreatedAt:      remote.CreatedAt,
		UpdatedAt:      remote.UpdatedAt,
		SolvedAt:       &solvedAt,
		RequesterID:    remote.RequesterID,
		RequesterEmail: requester.Email,
		AssigneeID:     remote.AssigneeID,
		AssigneeEmail:  assignee.Email,
		AssigneeName:   assignee.Name,
		PayerTier:      fields.Extract(ticket.FieldPayerTier),
		Language:       fields.Extract(ticket.FieldLanguage),
		Topic:          fields.Extract(ticket.FieldTopic),
		SubTopic:       fields.Extract(ticket.FieldSubTopic),
		Version:        fields.Extract(ticket.FieldVersion),
		Tags:           ticket.JoinTags(remote.Tags),
	}
	if remote.SatisfactionRating != nil {
		t.CSATOffered = true
		t.CSAT = ticket.ParseCSAT(remote.SatisfactionRating.Score)
	}
	return t
}

// scanAudits collects applied macro titles in history order and reports
// whether the ticket ever left the solved state.
func scanAudits(audits []helpdesk.Audit) (macros []string, reopened bool) {
	for _, a := range audits {
		for i := range a.Events {
			e := &a.Events[i]
			switch e.Type {
			case helpdesk.EventApplyMacro:
				if title := e.MacroName(); title != "" {
					macros = append(macros, title)
				}
			case helpdesk.EventChange:
				if e.FieldName == "status" && isClosedStatus(e.PreviousValue) && !isClosedStatus(e.Value) {
					reopened = true
				}
			}
		}
	}
	return macros, reopened
}

func isClosedStatus(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch strings.ToLower(s) {
	case "solved", "closed":
		return true
	}
	return false
}
