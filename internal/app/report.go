package app

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"osticket-helper/internal/osticket"
	"osticket-helper/internal/receipt"
)

const listDateLayout = "2.1.2006 15:04"

func (a *App) newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(a.opts.Out)
	return t
}

func (a *App) printGroups(groups osticket.Grouped, status osticket.Status) {
	if groups.Total() == 0 {
		a.println(a.format("formatter", "no_tickets", "No {status} tickets.", map[string]any{
			"status": strings.ToLower(string(status)),
		}))
		return
	}

	for _, group := range groups {
		t := a.newTable()
		t.SetTitle(fmt.Sprintf("%s (%d)", group.RequesterName, len(group.Tickets)))
		t.AppendHeader(table.Row{
			a.str("formatter", "ticket", "Ticket"),
			a.str("formatter", "subject", "Subject"),
			a.str("formatter", "created", "Created"),
		})
		for _, ticket := range group.Tickets {
			t.AppendRow(table.Row{
				fmt.Sprintf("#%s (%s)", ticket.Number, ticket.ID),
				ticket.Subject,
				ticket.CreatedAt.Format(listDateLayout),
			})
		}
		t.Render()
	}
	a.println(a.format("formatter", "total", "Total: {count} tickets", map[string]any{
		"count": groups.Total(),
	}))
}

func (a *App) printRecord(record osticket.TicketRecord, missing []*osticket.AttachmentError) {
	t := a.newTable()
	t.SetTitle(fmt.Sprintf("%s #%s", a.str("formatter", "ticket", "Ticket"), record.Number))
	t.AppendRows([]table.Row{
		{a.str("formatter", "subject", "Subject"), record.Subject},
		{a.str("formatter", "sender", "Sender"), record.RequesterName},
		{a.str("formatter", "email", "Email"), record.RequesterEmail},
		{a.str("formatter", "created", "Created"), record.CreatedAt.Format(listDateLayout)},
		{a.str("formatter", "status", "Status"), record.Status},
	})
	t.Render()

	a.println(a.str("formatter", "message", "Message") + ":")
	a.println(text.WrapSoft(record.BodyText, 100))

	if len(record.Attachments) == 0 {
		a.println(a.str("formatter", "no_attachments", "No attachments"))
		return
	}
	t = a.newTable()
	t.SetTitle(a.str("formatter", "attachments", "Attachments"))
	for i, att := range record.Attachments {
		location := att.LocalPath
		size := ""
		if att.Stored() {
			size = humanize.IBytes(uint64(att.Size))
		} else {
			location = att.Url
		}
		t.AppendRow(table.Row{i + 1, att.Filename, att.MimeType, size, location})
	}
	t.Render()

	if len(missing) > 0 {
		t = a.newTable()
		t.SetTitle(a.str("formatter", "missing_attachments", "Missing attachments"))
		for _, m := range missing {
			t.AppendRow(table.Row{m.Filename, m.Err})
		}
		t.Render()
	}
}

func (a *App) printReceipt(result receipt.Result) {
	t := a.newTable()
	if result.Incomplete {
		t.SetTitle(fmt.Sprintf("%s (%s)", result.Path, a.str("archiver", "incomplete", "incomplete")))
	} else {
		t.SetTitle(result.Path)
	}
	t.AppendHeader(table.Row{
		a.str("archiver", "source", "Source"),
		a.str("archiver", "pages", "Pages"),
		"",
	})
	for _, part := range result.Parts {
		name := part.Filename
		if part.Kind == receipt.PageSummary {
			name = a.str("archiver", "summary", "Summary")
		}
		t.AppendRow(table.Row{name, part.Pages, part.Reason})
	}
	t.AppendFooter(table.Row{
		a.str("archiver", "target", "Target"),
		result.Pages,
		humanize.IBytes(uint64(result.Size)),
	})
	t.Render()
}

func (a *App) printSummary(summary Summary) {
	if len(summary.Outcomes) == 0 {
		return
	}
	t := a.newTable()
	t.SetTitle(a.str("formatter", "summary_header", "Summary"))
	for _, o := range summary.Outcomes {
		if o.Err != nil {
			t.AppendRow(table.Row{o.TicketID, a.str("formatter", "result_failed", "failed"), osticket.Kind(o.Err)})
			continue
		}
		t.AppendRow(table.Row{o.TicketID, a.str("formatter", "result_ok", "ok"), o.Detail})
	}
	t.Render()
}
