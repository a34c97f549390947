package app

import (
	"context"
	"fmt"

	"osticket-helper/internal/osticket"
)

type ReadOptions struct {
	// NoDownload skips attachment downloads, and with them the receipt.
	NoDownload bool
	NoPDF      bool
	// Force re-downloads attachments and rebuilds existing receipts.
	Force bool
}

// Read shows every ticket in ids, downloads its attachments into the inbox
// and builds its receipt.
func (a *App) Read(ctx context.Context, ids []string, opts ReadOptions) (Summary, error) {
	var summary Summary
	err := a.withSession(ctx, func(s *osticket.Session) error {
		var err error
		summary, err = a.eachTicket(ctx, ids, func(ctx context.Context, id string) (string, error) {
			return a.readOne(ctx, s, id, opts)
		})
		return err
	})
	a.printSummary(summary)
	return summary, err
}

func (a *App) readOne(ctx context.Context, s *osticket.Session, id string, opts ReadOptions) (string, error) {
	a.println(a.format("cli", "reading", "Reading ticket {id}...", map[string]any{"id": id}))

	record, err := osticket.ReadTicket(ctx, s, id)
	if err != nil {
		return "", err
	}

	if !opts.NoDownload && len(record.Attachments) > 0 {
		a.println(a.format("cli", "downloading", "Downloading {count} attachments...", map[string]any{
			"count": len(record.Attachments),
		}))
	}
	var missing int
	if !opts.NoDownload {
		report, err := osticket.FetchAttachments(ctx, s, &record, a.opts.Store, opts.Force)
		if err != nil {
			a.printRecord(record, nil)
			return "", err
		}
		a.printRecord(record, report.Missing)
		missing = len(report.Missing)
	} else {
		a.printRecord(record, nil)
	}

	if opts.NoPDF || opts.NoDownload || a.opts.Receipts == nil {
		if missing > 0 {
			return "", a.missingError(record, missing, a.opts.Store.Dir(record.ID))
		}
		return a.opts.Store.Dir(record.ID), nil
	}

	a.println(a.str("cli", "generating", "Generating receipt..."))
	if missing > 0 {
		result, err := a.opts.Receipts.BuildIncomplete(ctx, record)
		if err != nil {
			return "", fmt.Errorf("%s: %w", a.str("cli", "generation_failed", "Receipt generation failed"), err)
		}
		a.printReceipt(result)
		a.println(a.format("cli", "incomplete", "{count} attachments missing, receipt marked incomplete: {path}", map[string]any{
			"count": missing,
			"path":  result.Path,
		}))
		return "", a.missingError(record, missing, result.Path)
	}

	result, err := a.opts.Receipts.Build(ctx, record, opts.Force)
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.str("cli", "generation_failed", "Receipt generation failed"), err)
	}
	if result.Skipped {
		a.println(fmt.Sprintf(
			"%s: %s. %s",
			result.Path,
			a.str("archiver", "already_exists", "receipt already exists"),
			a.str("archiver", "use_force", "Use --force to overwrite."),
		))
		return result.Path, nil
	}
	a.printReceipt(result)
	return result.Path, nil
}

// missingError fails a ticket whose attachments were not all stored, what was
// written so far is at `path`.
func (a *App) missingError(record osticket.TicketRecord, missing int, path string) error {
	return fmt.Errorf(
		"%w: %d of %d attachments missing, partial output written to %s",
		osticket.ErrAttachmentDownload, missing, len(record.Attachments), path,
	)
}
