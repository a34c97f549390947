// Package receipt assembles the pdf receipt of a ticket: a typeset summary
// page followed by one page per image attachment and the pages of every pdf
// attachment.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"osticket-helper/internal/components/assert"
	"osticket-helper/internal/components/chrono"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/internal/config"
	"osticket-helper/internal/osticket"
)

const (
	report_receipt_build      = "receipt.build"
	report_receipt_attachment = "receipt.attachment"
)

const displayDateLayout = "2.1.2006"

var tracer = otel.Tracer("osticket-helper/internal/receipt")

var disableConfigDir sync.Once

type Options struct {
	ReceiptsDir string
	// TempDir holds the intermediate files of a build, they are removed
	// afterwards.
	TempDir  string
	LogoPath string
	Template *Template
	Compiler Compiler
	Clock    chrono.API
	Strings  config.Strings
	// MaxWidth and JPEGQuality control how image attachments are re-encoded.
	MaxWidth    int
	JPEGQuality int
}

type Assembler struct {
	opts Options
	tel  telemetry.API
}

func NewAssembler(opts Options, tel telemetry.API) *Assembler {
	assert.NotNil(tel)
	assert.NotNil(opts.Template)
	assert.NotNil(opts.Compiler)
	assert.NotNil(opts.Clock)
	assert.NotEmptyStr(opts.ReceiptsDir)

	if opts.MaxWidth == 0 {
		opts.MaxWidth = 800
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 75
	}
	disableConfigDir.Do(api.DisableConfigDir)

	return &Assembler{
		opts: opts,
		tel:  telemetry.NewScopedAPI("receipt", tel),
	}
}

type PageKind string

const (
	PageSummary PageKind = "summary"
	PageImage   PageKind = "image"
	PagePDF     PageKind = "pdf"
	// PageListed attachments only appear in the summary's attachment list.
	PageListed PageKind = "listed"
)

// Part is one entry of the receipt in merge order.
type Part struct {
	Kind     PageKind
	Filename string
	// Pages is the amount of pages the part adds, 0 for listed attachments.
	Pages int
	// Size is the size of the attachment on disk, Compressed the size of the
	// re-encoded image.
	Size       int64
	Compressed int64
	// Reason says why a listed attachment was not embedded.
	Reason string

	path string
}

type Result struct {
	Path string
	// Skipped is set when the receipt already existed and was kept.
	Skipped bool
	// Incomplete is set for receipts of tickets with missing attachments.
	Incomplete bool
	Pages      int
	Size       int64
	Parts      []Part
}

func (a *Assembler) fileName(record osticket.TicketRecord) string {
	name := record.Number
	if name == "" {
		name = record.ID
	}
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}

// Path returns where the receipt of `record` is written.
func (a *Assembler) Path(record osticket.TicketRecord) string {
	return filepath.Join(a.opts.ReceiptsDir, a.fileName(record)+".pdf")
}

// IncompletePath returns where the receipt of `record` is written while some
// of its attachments are missing.
func (a *Assembler) IncompletePath(record osticket.TicketRecord) string {
	return filepath.Join(a.opts.ReceiptsDir, a.fileName(record)+".incomplete.pdf")
}

func (a *Assembler) str(section, key, fallback string) string {
	return a.opts.Strings.Get(section, key, fallback)
}

// Build writes the receipt of `record`. An existing receipt is kept unless
// force is set. A leftover incomplete receipt of the ticket is removed once
// the receipt was written.
func (a *Assembler) Build(ctx context.Context, record osticket.TicketRecord, force bool) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "receipt.build", trace.WithAttributes(attribute.String("ticket", record.ID)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			a.tel.ReportWarning(report_receipt_build, err, record.ID)
		}
		span.End()
	}()

	result.Path = a.Path(record)
	if !force {
		if info, err := os.Stat(result.Path); err == nil {
			result.Skipped = true
			result.Size = info.Size()
			return result, nil
		}
	}

	result, err = a.build(ctx, record, result.Path)
	if err != nil {
		return result, err
	}
	err = os.Remove(a.IncompletePath(record))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		a.tel.ReportWarning(report_receipt_build, fmt.Errorf("remove incomplete receipt: %w", err), record.ID)
	}
	return result, nil
}

// BuildIncomplete writes the receipt of a ticket whose attachments could not
// all be stored to IncompletePath, it is rebuilt on every call. The receipt
// at Path is never touched, so the next Build still sees it as missing.
func (a *Assembler) BuildIncomplete(ctx context.Context, record osticket.TicketRecord) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "receipt.build_incomplete", trace.WithAttributes(attribute.String("ticket", record.ID)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			a.tel.ReportWarning(report_receipt_build, err, record.ID)
		}
		span.End()
	}()

	result, err = a.build(ctx, record, a.IncompletePath(record))
	result.Incomplete = true
	return result, err
}

func (a *Assembler) build(ctx context.Context, record osticket.TicketRecord, target string) (Result, error) {
	result := Result{Path: target}

	err := os.MkdirAll(a.opts.TempDir, 0755)
	if err != nil {
		return result, &RenderError{Stage: "write", Err: err}
	}
	workDir, err := os.MkdirTemp(a.opts.TempDir, "receipt_"+record.ID+"_")
	if err != nil {
		return result, &RenderError{Stage: "write", Err: err}
	}
	defer os.RemoveAll(workDir)

	parts := a.plan(record, workDir)

	summaryPath := filepath.Join(workDir, "summary.pdf")
	err = a.renderSummary(ctx, record, parts[1:], workDir, summaryPath)
	if err != nil {
		return result, err
	}
	parts[0].path = summaryPath
	parts[0].Pages, err = api.PageCountFile(summaryPath)
	if err != nil {
		return result, &RenderError{Stage: "compile", Err: fmt.Errorf("read summary: %w", err)}
	}

	err = a.merge(parts, target)
	if err != nil {
		return result, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return result, &RenderError{Stage: "write", Err: err}
	}
	result.Size = info.Size()
	result.Parts = parts
	for _, p := range parts {
		result.Pages += p.Pages
	}
	return result, nil
}

// plan decides, in attachment order, how each attachment ends up in the
// receipt. The summary is always the first part.
func (a *Assembler) plan(record osticket.TicketRecord, workDir string) []Part {
	parts := []Part{{Kind: PageSummary}}
	notEmbedded := a.str("pdf", "not_embedded", "not embedded")

	for i, att := range record.Attachments {
		part := Part{Kind: PageListed, Filename: att.Filename, Size: att.Size}
		if !att.Stored() {
			part.Reason = notEmbedded
			parts = append(parts, part)
			continue
		}

		switch classify(att.LocalPath) {
		case kindPDF:
			pages, err := api.PageCountFile(att.LocalPath)
			if err != nil {
				a.tel.ReportWarning(report_receipt_attachment, fmt.Errorf("read %s: %w", att.Filename, err), record.ID)
				part.Reason = notEmbedded
				break
			}
			part.Kind = PagePDF
			part.Pages = pages
			part.path = att.LocalPath

		case kindImage:
			jpegPath := filepath.Join(workDir, fmt.Sprintf("attachment_%02d.jpg", i+1))
			pdfPath := filepath.Join(workDir, fmt.Sprintf("attachment_%02d.pdf", i+1))
			compressed, err := compressImage(att.LocalPath, jpegPath, a.opts.MaxWidth, a.opts.JPEGQuality)
			if err == nil {
				err = api.ImportImagesFile([]string{jpegPath}, pdfPath, pdfcpu.DefaultImportConfig(), nil)
			}
			if err != nil {
				a.tel.ReportWarning(report_receipt_attachment, fmt.Errorf("embed %s: %w", att.Filename, err), record.ID)
				part.Reason = notEmbedded
				break
			}
			part.Kind = PageImage
			part.Pages = 1
			part.Compressed = compressed
			part.path = pdfPath

		default:
			part.Reason = notEmbedded
		}
		parts = append(parts, part)
	}
	return parts
}

func (a *Assembler) attachmentsBlock(parts []Part) Markup {
	if len(parts) == 0 {
		return Markup(Escape(a.str("pdf", "no_attachments", "No attachments.")))
	}

	lines := make([]string, len(parts))
	for i, p := range parts {
		var detail string
		switch p.Kind {
		case PageImage:
			detail = fmt.Sprintf(
				"%s → %s, %s",
				humanize.IBytes(uint64(p.Size)),
				humanize.IBytes(uint64(p.Compressed)),
				a.str("archiver", "compressed", "compressed"),
			)
		case PagePDF:
			detail = fmt.Sprintf("%s, %s", humanize.IBytes(uint64(p.Size)), a.str("archiver", "original", "original"))
		default:
			if p.Size > 0 {
				detail = fmt.Sprintf("%s, %s", humanize.IBytes(uint64(p.Size)), p.Reason)
			} else {
				detail = p.Reason
			}
		}
		lines[i] = "+ " + Escape(fmt.Sprintf("%s (%s)", p.Filename, detail))
	}
	return Markup(strings.Join(lines, "\n"))
}

// Fields computes the template fields of a record, `parts` are the
// attachment parts in order.
func (a *Assembler) Fields(record osticket.TicketRecord, parts []Part, logo Markup) Fields {
	number := record.Number
	if number == "" {
		number = record.ID
	}
	heading := "osTicket #" + number
	title := a.str("pdf", "title", "")

	titleBlock := fmt.Sprintf(`#text(size: 16pt, weight: "bold")[%s]`, Escape(heading))
	documentTitle := heading
	if title != "" {
		titleBlock = fmt.Sprintf(
			"#text(size: 16pt, weight: \"bold\")[%s]\n#v(0.1cm)\n#text(size: 12pt)[%s]",
			Escape(title), Escape(heading),
		)
		documentTitle = title + " - " + heading
	}

	return Fields{
		TitleBlock:       Markup(titleBlock),
		LogoBlock:        logo,
		AttachmentsBlock: a.attachmentsBlock(parts),
		DocumentTitle:    documentTitle,
		TicketID:         record.ID,
		TicketNumber:     number,
		Subject:          record.Subject,
		UserName:         record.RequesterName,
		DateDisplay:      record.CreatedAt.Format(displayDateLayout),
		TodayDisplay:     a.opts.Clock.Now().Format(displayDateLayout),
		Message:          record.BodyText,
		Lang:             a.str("pdf", "lang", "en"),
		Labels: Labels{
			Ticket:      a.str("pdf", "ticket", "Ticket"),
			Subject:     a.str("pdf", "subject", "Subject"),
			Sender:      a.str("pdf", "sender", "Sender"),
			Created:     a.str("pdf", "created", "Created"),
			Processed:   a.str("pdf", "processed", "Processed"),
			Message:     a.str("pdf", "message", "Message"),
			Attachments: a.str("pdf", "attachments", "Attachments"),
		},
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func (a *Assembler) logo(workDir string) Markup {
	if a.opts.LogoPath == "" {
		return ""
	}
	name := "logo" + strings.ToLower(filepath.Ext(a.opts.LogoPath))
	err := copyFile(a.opts.LogoPath, filepath.Join(workDir, name))
	if err != nil {
		a.tel.ReportWarning(report_receipt_build, fmt.Errorf("logo: %w", err))
		return ""
	}
	return Markup(fmt.Sprintf(`#image("%s", width: 40%%)`, name))
}

func (a *Assembler) renderSummary(ctx context.Context, record osticket.TicketRecord, parts []Part, workDir, output string) error {
	source := a.opts.Template.Render(a.Fields(record, parts, a.logo(workDir)))

	sourcePath := filepath.Join(workDir, "summary.typ")
	err := os.WriteFile(sourcePath, []byte(source), 0644)
	if err != nil {
		return &RenderError{Stage: "write", Err: err}
	}
	err = a.opts.Compiler.Compile(ctx, sourcePath, output)
	if err != nil {
		var renderErr *RenderError
		if errors.As(err, &renderErr) {
			return err
		}
		return &RenderError{Stage: "compile", Err: err}
	}
	if _, err := os.Stat(output); err != nil {
		return &RenderError{Stage: "compile", Err: fmt.Errorf("no summary at %s", output)}
	}
	return nil
}

// merge concatenates the embedded parts into target, replacing it only once
// the merged file is complete.
func (a *Assembler) merge(parts []Part, target string) error {
	var inputs []string
	for _, p := range parts {
		if p.path != "" {
			inputs = append(inputs, p.path)
		}
	}

	err := os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return &RenderError{Stage: "write", Err: err}
	}
	partial := target + ".part"
	if len(inputs) == 1 {
		err = copyFile(inputs[0], partial)
	} else {
		err = api.MergeCreateFile(inputs, partial, false, nil)
	}
	if err != nil {
		os.Remove(partial)
		return &RenderError{Stage: "merge", Err: err}
	}
	err = os.Rename(partial, target)
	if err != nil {
		return &RenderError{Stage: "write", Err: err}
	}
	return nil
}
