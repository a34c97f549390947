package osticket

import (
	"context"
	"fmt"
	"time"
)

const report_list_tickets = "list.list-tickets"

// maxListPages stops pagination that never ends, e.g. a next link that
// always points at the same page.
const maxListPages = 500

func (s *Session) parseDate(view, rowId, value string) (time.Time, error) {
	t, err := time.ParseInLocation(s.opts.DateFormat, value, s.opts.Location)
	if err != nil {
		return time.Time{}, &ParseError{
			View:   view,
			RowID:  rowId,
			Reason: fmt.Sprintf("date %q does not match %q", value, s.opts.DateFormat),
		}
	}
	return t, nil
}

// ListTickets reads every page of the ticket list filtered by status and
// groups the tickets by requester. A malformed row fails the whole listing.
// Tickets carry the status shown in the queue, or the filter's when the queue
// has no status column.
func ListTickets(ctx context.Context, s *Session, status Status) (Grouped, error) {
	listView := s.opts.Markup.List

	var tickets []TicketSummary
	seen := map[string]bool{}
	for page := 1; ; page++ {
		if page > maxListPages {
			return nil, &ParseError{View: "list", Reason: fmt.Sprintf("more than %d pages", maxListPages)}
		}

		snap, err := s.Navigate(ctx, listView.ListPath(status, page))
		if err != nil {
			return nil, err
		}
		rows, err := listView.Rows(snap.Doc)
		if err != nil {
			s.tel.ReportBroken(report_list_tickets, err, page)
			return nil, err
		}

		for _, row := range rows {
			if seen[row.ID] {
				continue
			}
			seen[row.ID] = true

			created, err := s.parseDate("list", row.ID, row.Created)
			if err != nil {
				s.tel.ReportBroken(report_list_tickets, err, page)
				return nil, err
			}
			rowStatus := status
			if row.Status != "" {
				rowStatus = Status(row.Status)
			}
			tickets = append(tickets, TicketSummary{
				ID:            row.ID,
				Number:        row.Number,
				Subject:       row.Subject,
				RequesterName: row.Requester,
				Status:        rowStatus,
				CreatedAt:     created,
				Url:           s.Url(s.opts.Markup.Detail.DetailPath(row.ID)),
			})
		}

		if len(rows) == 0 || !listView.HasNextPage(snap.Doc, page) {
			break
		}
	}

	s.tel.ReportCount(report_list_tickets, int64(len(tickets)))
	return GroupByRequester(tickets), nil
}
