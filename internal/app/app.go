// Package app runs the helper's commands. Every command opens one session,
// walks its ticket ids in order on that session and closes it on the way out.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"osticket-helper/internal/components/assert"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/internal/config"
	"osticket-helper/internal/inbox"
	"osticket-helper/internal/osticket"
	"osticket-helper/internal/receipt"
)

const (
	report_app_connect = "app.connect"
	report_app_ticket  = "app.ticket"
	report_app_close   = "app.close"
)

// Connector logs into the control panel.
type Connector func(ctx context.Context) (*osticket.Session, error)

type Options struct {
	Connect Connector
	Store   inbox.Store
	// Receipts may be nil, `read` then behaves as if --no-pdf was given.
	Receipts *receipt.Assembler
	Strings  config.Strings
	Out      io.Writer
}

type App struct {
	opts Options
	tel  telemetry.API
}

func New(opts Options, tel telemetry.API) *App {
	assert.NotNil(tel)
	assert.NotNil(opts.Connect)
	assert.NotNil(opts.Out)

	return &App{
		opts: opts,
		tel:  telemetry.NewScopedAPI("app", tel),
	}
}

func (a *App) str(section, key, fallback string) string {
	return a.opts.Strings.Get(section, key, fallback)
}

func (a *App) format(section, key, fallback string, args map[string]any) string {
	return a.opts.Strings.Format(section, key, fallback, args)
}

func (a *App) println(text string) {
	fmt.Fprintln(a.opts.Out, text)
}

// withSession runs fn on a fresh session and closes it afterwards, whatever
// fn returns.
func (a *App) withSession(ctx context.Context, fn func(s *osticket.Session) error) error {
	a.println(a.str("cli", "logging_in", "Logging in to osTicket..."))
	session, err := a.opts.Connect(ctx)
	if err != nil {
		a.tel.ReportWarning(report_app_connect, err)
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			a.tel.ReportWarning(report_app_close, err)
		}
	}()
	return fn(session)
}

// Outcome is the result of one ticket of a multi ticket command.
type Outcome struct {
	TicketID string
	Err      error
	// Detail is shown next to successful tickets, the receipt path for
	// example.
	Detail string
}

type Summary struct {
	Outcomes []Outcome
}

func (s Summary) Failed() bool {
	for _, o := range s.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

func (s Summary) Succeeded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// ErrTicketsFailed is returned by commands that finished but had at least one
// failed ticket.
var ErrTicketsFailed = errors.New("some tickets failed")

// fatal tells whether err ends the whole command instead of only the ticket
// it happened on.
func fatal(err error) bool {
	return errors.Is(err, osticket.ErrAuth) ||
		errors.Is(err, context.Canceled) && !errors.Is(err, osticket.ErrTimeout)
}

// eachTicket runs fn for every id in order. Per ticket failures are recorded
// and the loop moves on, authentication failures and cancellation stop it.
// Cancellation is only observed between tickets: fn gets a context that keeps
// the values of ctx but is never canceled, so a ticket in progress runs to
// completion or to the timeouts of its own operations.
func (a *App) eachTicket(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (string, error)) (Summary, error) {
	var summary Summary
	ticketCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		detail, err := fn(ticketCtx, id)
		summary.Outcomes = append(summary.Outcomes, Outcome{TicketID: id, Err: err, Detail: detail})
		if err != nil {
			a.tel.ReportWarning(report_app_ticket, err, id)
			a.println(fmt.Sprintf("%s: %s", a.str("cli", "error", "Error"), err))
			if fatal(err) {
				return summary, err
			}
		}
	}
	if summary.Failed() {
		return summary, ErrTicketsFailed
	}
	return summary, nil
}
