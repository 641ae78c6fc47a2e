package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/db"
	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/ticket"
)

// WindowInput selects tickets by updated_at. From and To are RFC 3339
// timestamps or YYYY-MM-DD dates; a date in To covers that whole day.
// When neither is set, the window is the last Days days (default: the
// configured lookback).
type WindowInput struct {
	Days int    `json:"days,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Window is a resolved half-open range.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Resolve turns the input into a concrete window ending at now.
func (in WindowInput) Resolve(cfg *config.Config, now time.Time) (Window, error) {
	now = now.UTC()
	if in.From == "" && in.To == "" {
		days := in.Days
		if days == 0 {
			days = cfg.LookbackDays
		}
		if days <= 0 || days > MaxWindowDays {
			return Window{}, errors.NewInvalidRequest(fmt.Sprintf("days must be between 1 and %d", MaxWindowDays))
		}
		return Window{From: now.Add(-time.Duration(days) * 24 * time.Hour), To: now}, nil
	}

	var w Window
	var err error
	if in.From != "" {
		if w.From, err = parseBound(in.From, false); err != nil {
			return Window{}, err
		}
	}
	if in.To != "" {
		if w.To, err = parseBound(in.To, true); err != nil {
			return Window{}, err
		}
	}
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return Window{}, errors.NewInvalidRequest("from must be before to")
	}
	return w, nil
}

func parseBound(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest(fmt.Sprintf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s))
	}
	if end {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

// ListTicketsOutput contains the result of the ListTickets operation.
type ListTicketsOutput struct {
	Window Window       `json:"window"`
	Items  []TicketItem `json:"items"`
}

// ListTickets returns the tickets updated in the window, newest first.
func ListTickets(ctx context.Context, database *sql.DB, cfg *config.Config, input WindowInput) (*ListTicketsOutput, error) {
	w, err := input.Resolve(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	tickets, err := db.ListTicketsUpdatedBetween(ctx, database, w.From, w.To)
	if err != nil {
		return nil, err
	}
	items := make([]TicketItem, len(tickets))
	for i := range tickets {
		items[i] = newTicketItem(&tickets[i], cfg)
	}
	return &ListTicketsOutput{Window: w, Items: items}, nil
}

// ListComments returns the comments of the given tickets ordered by
// (ticket_id, idx).
func ListComments(ctx context.Context, database *sql.DB, ids []int64) ([]ticket.Comment, error) {
	return db.ListComments(ctx, database, ids)
}
