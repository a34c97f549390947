package osticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"osticket-helper/internal/inbox"
	"osticket-helper/pkg/htmlutil"
)

const (
	report_detail_read_ticket       = "detail.read-ticket"
	report_detail_fetch_attachments = "detail.fetch-attachments"
)

// ReadTicket parses the detail view of a ticket. The record is only returned
// once subject, requester, dates, message thread and attachment list were all
// found.
func ReadTicket(ctx context.Context, s *Session, ticketId string) (TicketRecord, error) {
	ticketId = strings.TrimSpace(ticketId)
	if ticketId == "" {
		return TicketRecord{}, fmt.Errorf("%w: empty ticket id", ErrNotFound)
	}
	detailView := s.opts.Markup.Detail

	snap, err := s.Navigate(ctx, detailView.DetailPath(ticketId))
	if err != nil {
		return TicketRecord{}, err
	}
	if snap.Status == http.StatusNotFound || snap.Status == http.StatusForbidden {
		return TicketRecord{}, fmt.Errorf("%w: ticket %s (http %d)", ErrNotFound, ticketId, snap.Status)
	}
	if banner, missing := detailView.NotFound(snap.Doc); missing {
		return TicketRecord{}, fmt.Errorf("%w: ticket %s: %s", ErrNotFound, ticketId, banner)
	}

	fields, err := detailView.Parse(snap.Doc)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) && parseErr.RowID == "" {
			parseErr.RowID = ticketId
		}
		s.tel.ReportBroken(report_detail_read_ticket, err, ticketId)
		return TicketRecord{}, err
	}
	created, err := s.parseDate("detail", ticketId, fields.Created)
	if err != nil {
		s.tel.ReportBroken(report_detail_read_ticket, err, ticketId)
		return TicketRecord{}, err
	}

	record := TicketRecord{
		ID:             ticketId,
		Number:         fields.Number,
		Url:            s.Url(detailView.DetailPath(ticketId)),
		Subject:        fields.Subject,
		RequesterName:  fields.Requester,
		RequesterEmail: fields.Email,
		Status:         fields.Status,
		CreatedAt:      created,
		BodyText:       fields.Body,
		Attachments:    []AttachmentRef{},
	}

	names := make([]string, len(fields.Attachments))
	for i, a := range fields.Attachments {
		names[i] = a.Name
	}
	for i, name := range inbox.UniqueNames(names) {
		raw := fields.Attachments[i]
		link, err := htmlutil.ResolveURL(snap.Url, raw.Href)
		if err != nil {
			return TicketRecord{}, &ParseError{
				View:   "detail",
				RowID:  ticketId,
				Reason: fmt.Sprintf("attachment %q has an invalid link: %v", raw.Name, err),
			}
		}
		record.Attachments = append(record.Attachments, AttachmentRef{
			Filename: name,
			Url:      link.String(),
			MimeType: MimeTypeFor(name),
			Inline:   raw.Inline,
		})
	}

	return record, nil
}

// FetchReport describes the outcome of storing a ticket's attachments.
type FetchReport struct {
	Downloaded int
	// Reused counts attachments already complete in the inbox.
	Reused  int
	Missing []*AttachmentError
}

func contentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mediaType
}

// interrupted describes a fetch stopped by ctx, err is the download that was
// cut short, if any.
func interrupted(ctx context.Context, ticketId string, err error) error {
	cause := ctx.Err()
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: %w", ErrTimeout, cause)
	}
	if err != nil {
		return fmt.Errorf("fetch attachments of ticket %s: %w: %w", ticketId, cause, err)
	}
	return fmt.Errorf("fetch attachments of ticket %s: %w", ticketId, cause)
}

// FetchAttachments stores every attachment of `record` in its inbox folder
// and fills in the local fields of record.Attachments. Attachments already
// complete on disk are reused unless `force` is set. Individual failures are
// collected in the report, the call only fails when attachments were expected
// and none of them could be stored. Cancellation of ctx is not an attachment
// failure, it stops the loop and is returned once the manifest of what was
// stored so far is saved.
func FetchAttachments(ctx context.Context, s *Session, record *TicketRecord, store inbox.Store, force bool) (FetchReport, error) {
	var report FetchReport

	dir, err := store.Open(record.ID)
	if err != nil {
		return report, fmt.Errorf("open inbox for ticket %s: %w", record.ID, err)
	}

	var canceled error
	for i := range record.Attachments {
		att := &record.Attachments[i]

		if ctx.Err() != nil {
			canceled = interrupted(ctx, record.ID, nil)
			break
		}

		if !force {
			if entry, ok := dir.Lookup(att.Filename); ok {
				att.LocalPath = dir.FilePath(entry.Name)
				att.Size = entry.Size
				att.Digest = entry.Blake3
				report.Reused++
				continue
			}
		}

		entry, err := dir.Write(att.Filename, att.Url, func(w io.Writer) (inbox.Filled, error) {
			dl, err := s.Download(ctx, att.Url, w)
			if err == nil && !dl.Complete() {
				err = fmt.Errorf("%w: got %d of %d bytes", inbox.ErrIncomplete, dl.Written, dl.Expected)
			}
			return inbox.Filled{Expected: dl.Expected, MimeType: contentType(dl.MimeType)}, err
		})
		if err != nil && ctx.Err() != nil {
			canceled = interrupted(ctx, record.ID, err)
			break
		}
		if err != nil {
			attErr := &AttachmentError{Filename: att.Filename, Url: att.Url, Err: err}
			s.tel.ReportWarning(report_detail_fetch_attachments, attErr, record.ID)
			report.Missing = append(report.Missing, attErr)
			continue
		}

		att.LocalPath = dir.FilePath(entry.Name)
		att.Size = entry.Size
		att.Digest = entry.Blake3
		if att.MimeType == "application/octet-stream" && entry.MimeType != "" {
			att.MimeType = entry.MimeType
		}
		report.Downloaded++
	}

	err = dir.SetTicket(record)
	if err == nil {
		err = dir.Save()
	}
	if err != nil {
		return report, fmt.Errorf("save manifest of ticket %s: %w", record.ID, err)
	}
	if canceled != nil {
		return report, canceled
	}

	s.tel.ReportCount(report_detail_fetch_attachments, int64(report.Downloaded))

	if len(record.Attachments) > 0 && len(report.Missing) == len(record.Attachments) {
		errs := make([]error, len(report.Missing))
		for i, m := range report.Missing {
			errs[i] = m
		}
		return report, fmt.Errorf(
			"%w: none of the %d attachments of ticket %s could be stored: %w",
			ErrAttachmentDownload, len(record.Attachments), record.ID, errors.Join(errs...),
		)
	}
	return report, nil
}
