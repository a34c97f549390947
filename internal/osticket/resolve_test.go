package osticket

import (
	"context"
	"testing"

	"osticket-helper/internal/osticket/osticketest"

	"github.com/stretchr/testify/require"
)

func TestResolveTicket(t *testing.T) {
	srv := newServer(t)
	s := newSession(t, srv)

	err := ResolveTicket(context.Background(), s, "339", "Paid")
	require.NoError(t, err)
	require.Equal(t, osticketest.StatusResolved, srv.Ticket("339").Status)

	replies := srv.Replies()
	require.Len(t, replies, 1)
	require.Equal(t, "339", replies[0].TicketID)
	require.Equal(t, "<p>Paid</p>", replies[0].Response)
	require.Equal(t, "2", replies[0].StatusID)
}

func TestResolveNotConfirmed(t *testing.T) {
	srv := newServer(t)
	srv.IgnoreReplyStatus = true
	s := newSession(t, srv)

	err := ResolveTicket(context.Background(), s, "339", "Paid")
	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, "Open", transitionErr.Status)
	require.Equal(t, "transition", Kind(err))

	// the reply went out exactly once
	require.Len(t, srv.Replies(), 1)
}

func TestResolveRejected(t *testing.T) {
	srv := newServer(t)
	srv.RejectReply = "Unable to post the reply. Correct the errors below and try again!"
	s := newSession(t, srv)

	err := ResolveTicket(context.Background(), s, "339", "Paid")
	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Contains(t, transitionErr.Message, "Unable to post the reply")
	require.Empty(t, srv.Replies())
}

func TestResolveNotFound(t *testing.T) {
	srv := newServer(t)
	s := newSession(t, srv)

	err := ResolveTicket(context.Background(), s, "999", "Paid")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, srv.Replies())
}

func TestResolveEmptyMessage(t *testing.T) {
	srv := newServer(t)
	s := newSession(t, srv)

	require.Error(t, ResolveTicket(context.Background(), s, "339", "  "))
	require.Empty(t, srv.Replies())
}
