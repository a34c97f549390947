package app

import (
	"context"
	"errors"
	"strings"

	"osticket-helper/internal/osticket"
)

var ErrEmptyMessage = errors.New("resolution message must not be empty")

// Resolve replies to every ticket in ids with message and marks it resolved.
// A ticket that failed is never retried.
func (a *App) Resolve(ctx context.Context, ids []string, message string) (Summary, error) {
	if strings.TrimSpace(message) == "" {
		return Summary{}, ErrEmptyMessage
	}

	var summary Summary
	err := a.withSession(ctx, func(s *osticket.Session) error {
		var err error
		summary, err = a.eachTicket(ctx, ids, func(ctx context.Context, id string) (string, error) {
			a.println(a.format("cli", "resolving", "Resolving ticket {id}...", map[string]any{"id": id}))
			return "", osticket.ResolveTicket(ctx, s, id, message)
		})
		return err
	})

	a.printSummary(summary)
	if len(summary.Outcomes) > 0 && !summary.Failed() && err == nil {
		a.println(a.format("formatter", "all_resolved", "All {count} tickets resolved successfully.", map[string]any{
			"count": len(summary.Outcomes),
		}))
	} else if len(summary.Outcomes) > 0 {
		a.println(a.format("formatter", "resolve_summary", "Resolved: {succeeded}, failed: {failed}", map[string]any{
			"succeeded": summary.Succeeded(),
			"failed":    len(summary.Outcomes) - summary.Succeeded(),
		}))
	}
	return summary, err
}
