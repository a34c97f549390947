package osticket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const report_resolve_ticket = "resolve.resolve-ticket"

// IsResolved reports whether status is one of the configured resolved states.
func (s *Session) IsResolved(status string) bool {
	for _, state := range s.opts.ResolvedStates {
		if strings.EqualFold(strings.TrimSpace(status), state) {
			return true
		}
	}
	return false
}

// ResolveTicket posts `message` as a reply that moves the ticket to a
// resolved state, then reloads the ticket to confirm the status changed.
// It is never retried: submitting the reply twice would post it twice.
func ResolveTicket(ctx context.Context, s *Session, ticketId, message string) error {
	ticketId = strings.TrimSpace(ticketId)
	if ticketId == "" {
		return fmt.Errorf("%w: empty ticket id", ErrNotFound)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("ticket %s: empty reply message", ticketId)
	}
	markup := s.opts.Markup

	snap, err := s.Navigate(ctx, markup.Detail.DetailPath(ticketId))
	if err != nil {
		return err
	}
	if snap.Status == http.StatusNotFound || snap.Status == http.StatusForbidden {
		return fmt.Errorf("%w: ticket %s (http %d)", ErrNotFound, ticketId, snap.Status)
	}
	if banner, missing := markup.Detail.NotFound(snap.Doc); missing {
		return fmt.Errorf("%w: ticket %s: %s", ErrNotFound, ticketId, banner)
	}

	form, err := markup.Reply.ReplyForm(snap.Doc, message, s.opts.ResolvedStates)
	if err != nil {
		s.tel.ReportBroken(report_resolve_ticket, err, ticketId)
		return err
	}
	result, err := s.Submit(ctx, form)
	if err != nil {
		return err
	}
	if banner, rejected := markup.Reply.Rejected(result.Doc); rejected {
		return &TransitionError{TicketID: ticketId, Message: banner}
	}

	snap, err = s.Navigate(ctx, markup.Detail.DetailPath(ticketId))
	if err != nil {
		return fmt.Errorf("%w: confirm ticket %s: %w", ErrTransition, ticketId, err)
	}
	status, err := markup.Detail.Status(snap.Doc)
	if err != nil {
		return fmt.Errorf("%w: confirm ticket %s: %w", ErrTransition, ticketId, err)
	}
	if !s.IsResolved(status) {
		err = &TransitionError{TicketID: ticketId, Status: status}
		s.tel.ReportWarning(report_resolve_ticket, err)
		return err
	}

	s.tel.ReportDebug("ticket resolved", ticketId, status)
	return nil
}
