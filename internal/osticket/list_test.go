package osticket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"osticket-helper/internal/osticket/osticketest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestListTicketsAcrossPages(t *testing.T) {
	srv := newServer(t)
	srv.PageSize = 2
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusOpen)
	require.NoError(t, err)

	summary := func(id, number, subject, requester string, created time.Time) TicketSummary {
		return TicketSummary{
			ID:            id,
			Number:        number,
			Subject:       subject,
			RequesterName: requester,
			Status:        StatusOpen,
			CreatedAt:     created,
			Url:           srv.URL + "/scp/tickets.php?id=" + id,
		}
	}
	expected := Grouped{
		{
			RequesterName: "Jane Doe",
			Tickets: []TicketSummary{
				summary("339", "128001", "Issue", "Jane Doe", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)),
				summary("341", "128003", "Second payment", "Jane Doe", time.Date(2024, 1, 17, 8, 0, 0, 0, time.UTC)),
			},
		},
		{
			RequesterName: "John Smith",
			Tickets: []TicketSummary{
				summary("340", "128002", "Printer jam", "John Smith", time.Date(2024, 1, 16, 14, 5, 0, 0, time.UTC)),
			},
		},
	}
	if diff := cmp.Diff(expected, grouped); diff != "" {
		t.Fatalf("unexpected listing (-want +got):\n%s", diff)
	}
}

func TestListSingleOpenTicket(t *testing.T) {
	srv := newServer(t)
	srv.Tickets = srv.Tickets[:1]
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusOpen)
	require.NoError(t, err)
	require.Len(t, grouped, 1)

	tickets := grouped.Get("Jane Doe")
	require.Len(t, tickets, 1)
	require.Equal(t, "339", tickets[0].ID)
	require.Equal(t, "Issue", tickets[0].Subject)
	require.Equal(t, StatusOpen, tickets[0].Status)
	require.False(t, tickets[0].CreatedAt.IsZero())
}

func TestListClosed(t *testing.T) {
	srv := newServer(t)
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusClosed)
	require.NoError(t, err)
	require.Equal(t, 1, grouped.Total())
	require.Equal(t, "Alice Brown", grouped[0].RequesterName)
	require.Equal(t, StatusClosed, grouped[0].Tickets[0].Status)
}

func TestListStatusColumn(t *testing.T) {
	srv := newServer(t)
	srv.ShowStatus = true
	srv.Ticket("200").Status = osticketest.StatusResolved
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusClosed)
	require.NoError(t, err)
	require.Equal(t, 1, grouped.Total())
	require.Equal(t, Status("Resolved"), grouped[0].Tickets[0].Status)

	grouped, err = ListTickets(context.Background(), s, StatusOpen)
	require.NoError(t, err)
	for _, g := range grouped {
		for _, ticket := range g.Tickets {
			require.Equal(t, StatusOpen, ticket.Status)
		}
	}
}

func TestListEmpty(t *testing.T) {
	srv := osticketest.New(t, testUser, testPassword)
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusOpen)
	require.NoError(t, err)
	require.Empty(t, grouped)
}

func TestListGroupingKeepsEveryRow(t *testing.T) {
	requesters := []string{"Ann", "Bob", "Cid"}
	srv := osticketest.New(t, testUser, testPassword)
	srv.PageSize = 3
	for i := 0; i < 10; i++ {
		srv.Tickets = append(srv.Tickets, &osticketest.Ticket{
			ID:        fmt.Sprint(500 + i),
			Number:    fmt.Sprint(900500 + i),
			Subject:   fmt.Sprintf("Subject %d", i),
			Requester: requesters[(i*i)%len(requesters)],
			Status:    osticketest.StatusOpen,
			Created:   "3/4/24 5:06 PM",
		})
	}
	s := newSession(t, srv)

	grouped, err := ListTickets(context.Background(), s, StatusOpen)
	require.NoError(t, err)
	require.Equal(t, 10, grouped.Total())
	require.Len(t, grouped, 2)

	for _, group := range grouped {
		last := -1
		for _, ticket := range group.Tickets {
			var n int
			fmt.Sscan(ticket.ID, &n)
			require.Greater(t, n, last, "tickets of %s out of page order", group.RequesterName)
			last = n
		}
	}
}

func TestListBadDateFailsClosed(t *testing.T) {
	srv := newServer(t)
	srv.Tickets[1].Created = "yesterday"
	s := newSession(t, srv)

	_, err := ListTickets(context.Background(), s, StatusOpen)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "340", parseErr.RowID)
	require.Equal(t, "list", parseErr.View)
}

func TestFilterRequester(t *testing.T) {
	grouped := GroupByRequester([]TicketSummary{
		{ID: "1", RequesterName: "Jane Doe"},
		{ID: "2", RequesterName: "John Smith"},
		{ID: "3", RequesterName: "Jane Doe"},
	})
	require.Len(t, grouped, 2)

	filtered := grouped.FilterRequester("jane")
	require.Len(t, filtered, 1)
	require.Equal(t, 2, filtered.Total())
	require.Empty(t, grouped.FilterRequester("nobody"))
	require.Equal(t, grouped, grouped.FilterRequester(""))
}
