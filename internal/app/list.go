package app

import (
	"context"
	"strings"

	"osticket-helper/internal/osticket"
)

type ListOptions struct {
	Status osticket.Status
	// User keeps only requesters whose name contains it, case-insensitive.
	User string
}

// List prints the tickets with the given status grouped by requester.
func (a *App) List(ctx context.Context, opts ListOptions) (osticket.Grouped, error) {
	status := opts.Status
	if status == "" {
		status = osticket.StatusOpen
	}

	var groups osticket.Grouped
	err := a.withSession(ctx, func(s *osticket.Session) error {
		a.println(a.format("cli", "fetching", "Fetching {status} tickets...", map[string]any{
			"status": strings.ToLower(string(status)),
		}))

		var err error
		groups, err = osticket.ListTickets(ctx, s, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	if opts.User != "" {
		groups = groups.FilterRequester(opts.User)
	}
	a.printGroups(groups, status)
	return groups, nil
}
