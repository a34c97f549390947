package app

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"osticket-helper/internal/browser"
	"osticket-helper/internal/components/chrono"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/internal/config"
	"osticket-helper/internal/inbox"
	"osticket-helper/internal/osticket"
	"osticket-helper/internal/osticket/osticketest"
	"osticket-helper/internal/receipt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "agent"
	testPassword = "hunter2"
)

// pageCompiler stands in for typst, every summary it produces is one blank
// page.
type pageCompiler struct {
	calls int
}

func (c *pageCompiler) Compile(_ context.Context, sourcePath, outputPath string) error {
	c.calls++
	image := filepath.Join(filepath.Dir(sourcePath), "page.png")
	err := os.WriteFile(image, osticketest.PNG(20, 30, color.White), 0644)
	if err != nil {
		return err
	}
	return api.ImportImagesFile([]string{image}, outputPath, pdfcpu.DefaultImportConfig(), nil)
}

type fixture struct {
	srv      *osticketest.Server
	app      *App
	out      *bytes.Buffer
	compiler *pageCompiler
	root     string
	sessions []*osticket.Session
}

func newFixture(t *testing.T, password string) *fixture {
	srv := osticketest.New(t, testUser, testPassword)
	srv.Tickets = osticketest.SampleTickets()

	defaults, err := config.Defaults()
	require.NoError(t, err)
	tmpl, err := receipt.LoadTemplate("")
	require.NoError(t, err)

	f := &fixture{
		srv:      srv,
		out:      &bytes.Buffer{},
		compiler: &pageCompiler{},
		root:     t.TempDir(),
	}
	tel := &telemetry.Recorder{}

	connect := func(ctx context.Context) (*osticket.Session, error) {
		engine, err := browser.NewHTTP(browser.HTTPOptions{
			BaseUrl:           srv.URL,
			RequestsPerSecond: 1000,
		}, tel)
		if err != nil {
			return nil, err
		}
		s, err := osticket.Login(ctx, engine, osticket.Options{
			BaseUrl:  srv.URL,
			Username: testUser,
			Password: password,
			Location: time.UTC,
		}, tel)
		if err != nil {
			return nil, err
		}
		f.sessions = append(f.sessions, s)
		return s, nil
	}

	f.app = New(Options{
		Connect: connect,
		Store:   inbox.New(filepath.Join(f.root, "inbox")),
		Receipts: receipt.NewAssembler(receipt.Options{
			ReceiptsDir: filepath.Join(f.root, "receipts"),
			TempDir:     filepath.Join(f.root, ".tmp"),
			Template:    tmpl,
			Compiler:    f.compiler,
			Clock:       chrono.FixedImpl{At: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)},
			Strings:     defaults.Strings,
		}, tel),
		Strings: defaults.Strings,
		Out:     f.out,
	}, tel)
	return f
}

func (f *fixture) requireClosed(t *testing.T) {
	require.NotEmpty(t, f.sessions)
	for _, s := range f.sessions {
		_, err := s.Navigate(context.Background(), "/scp/tickets.php")
		require.ErrorIs(t, err, osticket.ErrClosed)
	}
}

func TestList(t *testing.T) {
	cases := []struct {
		name       string
		opts       ListOptions
		requesters []string
		output     []string
	}{
		{
			name:       "open",
			opts:       ListOptions{},
			requesters: []string{"Jane Doe", "John Smith"},
			output:     []string{"Fetching open tickets...", "Jane Doe (2)", "John Smith (1)", "Total: 3 tickets"},
		},
		{
			name:       "closed",
			opts:       ListOptions{Status: osticket.StatusClosed},
			requesters: []string{"Alice Brown"},
			output:     []string{"Fetching closed tickets...", "Old request", "Total: 1 tickets"},
		},
		{
			name:       "user filter",
			opts:       ListOptions{User: "jane"},
			requesters: []string{"Jane Doe"},
			output:     []string{"#128001 (339)", "#128003 (341)", "Total: 2 tickets"},
		},
		{
			name:   "nobody matches",
			opts:   ListOptions{User: "nobody"},
			output: []string{"No open tickets."},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, testPassword)
			groups, err := f.app.List(context.Background(), c.opts)
			require.NoError(t, err)

			var requesters []string
			for _, g := range groups {
				requesters = append(requesters, g.RequesterName)
			}
			require.Equal(t, c.requesters, requesters)
			for _, line := range c.output {
				require.Contains(t, f.out.String(), line)
			}
			f.requireClosed(t)
		})
	}
}

func TestReadAggregatesFailures(t *testing.T) {
	f := newFixture(t, testPassword)

	summary, err := f.app.Read(context.Background(), []string{"339", "341", "999", "340"}, ReadOptions{})
	require.ErrorIs(t, err, ErrTicketsFailed)
	require.True(t, summary.Failed())
	require.Equal(t, 2, summary.Succeeded())

	var kinds []string
	for _, o := range summary.Outcomes {
		kinds = append(kinds, osticket.Kind(o.Err))
	}
	require.Equal(t, []string{"", "attachment_download", "not_found", ""}, kinds)

	receipts := filepath.Join(f.root, "receipts")
	require.Equal(t, filepath.Join(receipts, "128001.pdf"), summary.Outcomes[0].Detail)
	require.FileExists(t, filepath.Join(receipts, "128001.pdf"))
	require.FileExists(t, filepath.Join(receipts, "128002.pdf"))
	require.NoFileExists(t, filepath.Join(receipts, "128003.pdf"))

	for _, name := range []string{"invoice.pdf", "scan.png", "scan_2.png", "inline_image_1.jpg", inbox.ManifestName} {
		require.FileExists(t, filepath.Join(f.root, "inbox", "339", name))
	}

	// summary, then the two scans and the inline image, the fake invoice is
	// only listed
	pages, err := api.PageCountFile(filepath.Join(receipts, "128001.pdf"))
	require.NoError(t, err)
	require.Equal(t, 4, pages)

	out := f.out.String()
	require.Contains(t, out, "Reading ticket 999...")
	require.Contains(t, out, "broken.pdf")
	require.Contains(t, out, "not_found")
	f.requireClosed(t)
}

func TestReadTwiceReusesWork(t *testing.T) {
	f := newFixture(t, testPassword)
	ctx := context.Background()

	_, err := f.app.Read(ctx, []string{"339"}, ReadOptions{})
	require.NoError(t, err)
	summary, err := f.app.Read(ctx, []string{"339"}, ReadOptions{})
	require.NoError(t, err)
	require.False(t, summary.Failed())

	require.Equal(t, 1, f.compiler.calls)
	require.Equal(t, 1, f.srv.Downloads("k-scan-1"))
	require.Contains(t, f.out.String(), "receipt already exists")

	_, err = f.app.Read(ctx, []string{"339"}, ReadOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, 2, f.compiler.calls)
	require.Equal(t, 2, f.srv.Downloads("k-scan-1"))
}

func TestReadFinishesTicketOnCancel(t *testing.T) {
	f := newFixture(t, testPassword)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.srv.OnDownload = func(key string) {
		if key == "k-scan-2" {
			cancel()
		}
	}

	summary, err := f.app.Read(ctx, []string{"339", "340"}, ReadOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Outcomes, 1)
	require.NoError(t, summary.Outcomes[0].Err)

	receipts := filepath.Join(f.root, "receipts")
	pages, err := api.PageCountFile(filepath.Join(receipts, "128001.pdf"))
	require.NoError(t, err)
	require.Equal(t, 4, pages)
	require.NoFileExists(t, filepath.Join(receipts, "128001.incomplete.pdf"))
	require.NoFileExists(t, filepath.Join(receipts, "128002.pdf"))
	require.Equal(t, 1, f.srv.Downloads("k-inline"))
	require.NotContains(t, f.out.String(), "Reading ticket 340...")
	f.requireClosed(t)
}

func TestReadMissingAttachmentKeepsReceiptIncomplete(t *testing.T) {
	f := newFixture(t, testPassword)
	ctx := context.Background()
	receipts := filepath.Join(f.root, "receipts")
	final := filepath.Join(receipts, "128001.pdf")
	incomplete := filepath.Join(receipts, "128001.incomplete.pdf")

	f.srv.Tickets[0].Thread[0].Files[2].Fail = true
	summary, err := f.app.Read(ctx, []string{"339"}, ReadOptions{})
	require.ErrorIs(t, err, ErrTicketsFailed)
	require.Equal(t, "attachment_download", osticket.Kind(summary.Outcomes[0].Err))
	require.ErrorContains(t, summary.Outcomes[0].Err, "1 of 4 attachments missing")
	require.NoFileExists(t, final)
	require.FileExists(t, incomplete)
	require.Contains(t, f.out.String(), "1 attachments missing, receipt marked incomplete: "+incomplete)

	// the next run only downloads what is missing and replaces the
	// incomplete receipt
	f.srv.Tickets[0].Thread[0].Files[2].Fail = false
	summary, err = f.app.Read(ctx, []string{"339"}, ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, final, summary.Outcomes[0].Detail)
	require.NoFileExists(t, incomplete)
	require.Equal(t, 1, f.srv.Downloads("k-scan-1"))
	require.Equal(t, 2, f.srv.Downloads("k-scan-2"))

	pages, err := api.PageCountFile(final)
	require.NoError(t, err)
	require.Equal(t, 4, pages)
	require.Equal(t, 2, f.compiler.calls)
}

func TestReadWithoutDownloads(t *testing.T) {
	f := newFixture(t, testPassword)

	summary, err := f.app.Read(context.Background(), []string{"339"}, ReadOptions{NoDownload: true})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	require.Equal(t, 0, f.srv.Downloads("k-invoice"))
	require.Equal(t, 0, f.compiler.calls)
	require.Contains(t, f.out.String(), "I paid the invoice yesterday.")
}

func TestReadNoPDF(t *testing.T) {
	f := newFixture(t, testPassword)

	_, err := f.app.Read(context.Background(), []string{"339"}, ReadOptions{NoPDF: true})
	require.NoError(t, err)
	require.Equal(t, 1, f.srv.Downloads("k-invoice"))
	require.Equal(t, 0, f.compiler.calls)
	require.NoDirExists(t, filepath.Join(f.root, "receipts"))
}

func TestResolve(t *testing.T) {
	f := newFixture(t, testPassword)

	summary, err := f.app.Resolve(context.Background(), []string{"339", "340"}, "Paid")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded())
	require.Equal(t, osticketest.StatusResolved, f.srv.Ticket("339").Status)
	require.Equal(t, osticketest.StatusResolved, f.srv.Ticket("340").Status)
	require.Contains(t, f.out.String(), "All 2 tickets resolved successfully.")
	f.requireClosed(t)
}

func TestResolveContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, testPassword)

	summary, err := f.app.Resolve(context.Background(), []string{"999", "340"}, "Fixed")
	require.ErrorIs(t, err, ErrTicketsFailed)
	require.Len(t, summary.Outcomes, 2)
	require.ErrorIs(t, summary.Outcomes[0].Err, osticket.ErrNotFound)
	require.NoError(t, summary.Outcomes[1].Err)
	require.Equal(t, osticketest.StatusResolved, f.srv.Ticket("340").Status)
	require.Contains(t, f.out.String(), "Resolved: 1, failed: 1")
}

func TestResolveEmptyMessage(t *testing.T) {
	f := newFixture(t, testPassword)

	_, err := f.app.Resolve(context.Background(), []string{"339"}, "  ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Equal(t, 0, f.srv.Logins())
}

func TestAuthFailureAbortsCommand(t *testing.T) {
	f := newFixture(t, "wrong")

	summary, err := f.app.Read(context.Background(), []string{"339", "340"}, ReadOptions{})
	require.ErrorIs(t, err, osticket.ErrAuth)
	require.Empty(t, summary.Outcomes)
	require.Equal(t, 0, f.srv.Downloads("k-invoice"))
}

func TestEachTicketStopsBetweenTickets(t *testing.T) {
	f := newFixture(t, testPassword)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	summary, err := f.app.eachTicket(ctx, []string{"1", "2", "3"}, func(ticketCtx context.Context, id string) (string, error) {
		seen = append(seen, id)
		cancel()
		require.NoError(t, ticketCtx.Err())
		return "done", nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"1"}, seen)
	require.Len(t, summary.Outcomes, 1)
	require.NoError(t, summary.Outcomes[0].Err)
}

func TestEachTicketAbortsOnAuth(t *testing.T) {
	f := newFixture(t, testPassword)

	var seen []string
	_, err := f.app.eachTicket(context.Background(), []string{"1", "2"}, func(_ context.Context, id string) (string, error) {
		seen = append(seen, id)
		return "", errors.Join(osticket.ErrSessionExpired, osticket.ErrAuth)
	})
	require.ErrorIs(t, err, osticket.ErrAuth)
	require.Equal(t, []string{"1"}, seen)
}
