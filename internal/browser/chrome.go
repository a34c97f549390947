package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"osticket-helper/internal/components/assert"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/pkg/htmlutil"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
)

const (
	report_chrome_start    = "chrome.start"
	report_chrome_navigate = "chrome.navigate"
	report_chrome_submit   = "chrome.submit"
	report_chrome_cookies  = "chrome.cookies"
)

// pendingMarker is set on the old document right before a form is submitted,
// its absence tells us a new document was loaded.
const pendingMarker = "__osticketHelperPending"

type ChromeOptions struct {
	Headless bool
	// SlowMo is a pause inserted after every interaction, it helps watching a
	// non-headless session.
	SlowMo time.Duration
	// ExecPath overrides the chrome binary, empty means autodetect.
	ExecPath string
	// NoSandbox is needed to run chrome as root, e.g. inside containers.
	NoSandbox bool
	// DownloadTimeout bounds attachment downloads, 0 means 60 seconds.
	DownloadTimeout time.Duration
}

// Chrome is an Engine backed by a real chromium instance driven over the
// devtools protocol.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        ChromeOptions
	http        *resty.Client
	current     *url.URL
	closed      bool
	tel         telemetry.API
}

func NewChrome(opts ChromeOptions, tel telemetry.API) (*Chrome, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("browser_chrome", tel)

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			tel.ReportDebug(fmt.Sprintf(format, args...))
		}),
	)

	// the first Run starts the browser process
	err := chromedp.Run(tabCtx)
	if err != nil {
		cancelTab()
		cancelAlloc()
		tel.ReportBroken(report_chrome_start, err)
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := opts.DownloadTimeout
	if timeout == 0 {
		timeout = time.Second * 60
	}
	client := resty.New()
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, tel)

	return &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		opts:        opts,
		http:        client,
		tel:         tel,
	}, nil
}

// run executes actions on the tab while honoring the deadline and
// cancellation of the caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if c.closed {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	if err != nil && runCtx.Err() != nil {
		return fmt.Errorf("%w: %w", runCtx.Err(), err)
	}
	return err
}

func (c *Chrome) pause() chromedp.Action {
	return chromedp.Sleep(c.opts.SlowMo)
}

func (c *Chrome) snapshot(ctx context.Context) (Page, error) {
	var location, html string
	err := c.run(
		ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Page{}, err
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return Page{}, err
	}
	c.current = parsed
	return Page{Url: parsed, Html: []byte(html)}, nil
}

func (c *Chrome) Navigate(ctx context.Context, target string) (Page, error) {
	link, err := htmlutil.ResolveURL(c.current, target)
	if err != nil {
		return Page{}, err
	}
	err = c.run(ctx, chromedp.Navigate(link.String()), c.pause())
	if err != nil {
		c.tel.ReportWarning(report_chrome_navigate, err, link.String())
		return Page{}, err
	}
	return c.snapshot(ctx)
}

func (c *Chrome) Submit(ctx context.Context, form Form) (Page, error) {
	var found bool
	err := c.run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%s) !== null`, strconv.Quote(form.Selector)),
		&found,
	))
	if err != nil {
		return Page{}, err
	}
	if !found {
		return Page{}, fmt.Errorf("%w: %s", ErrNoForm, form.Selector)
	}

	actions := []chromedp.Action{}
	for _, f := range form.Fields {
		sel := scopeSelector(form.Selector, fmt.Sprintf(`[name=%s]`, strconv.Quote(f.Name)))
		var synced bool
		actions = append(
			actions,
			chromedp.SetValue(sel, f.Value, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(syncEditorScript, jsString(sel), jsString(f.Value)), &synced),
			c.pause(),
		)
	}

	submit := form.Submit
	if submit == "" {
		submit = "[type=submit]"
	}

	var marked bool
	actions = append(
		actions,
		chromedp.Evaluate(fmt.Sprintf(`window.%s = true`, pendingMarker), &marked),
		chromedp.Click(scopeSelector(form.Selector, submit), chromedp.ByQuery),
		c.waitNewDocument(),
		c.pause(),
	)

	err = c.run(ctx, actions...)
	if err != nil {
		c.tel.ReportWarning(report_chrome_submit, err, form.Selector)
		return Page{}, err
	}
	return c.snapshot(ctx)
}

// syncEditorScript writes a value into a form control and into the redactor
// editor attached to it, if any. Redactor copies its own content back into
// the textarea on submit.
const syncEditorScript = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (el === null) {
		return false;
	}
	if (window.jQuery) {
		const editor = window.jQuery(el).data("redactor");
		if (editor && editor.source) {
			editor.source.setCode(value);
		}
	}
	el.value = value;
	return true;
})(%s, %s)`

// jsString quotes s as a javascript string literal.
func jsString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}

// waitNewDocument polls until the document marked before submitting was
// replaced and the new one finished loading. Evaluation errors while the old
// document is torn down are expected and ignored.
func (c *Chrome) waitNewDocument() chromedp.Action {
	expression := fmt.Sprintf(`window.%s !== true && document.readyState === "complete"`, pendingMarker)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var loaded bool
			err := chromedp.Evaluate(expression, &loaded).Do(ctx)
			if err == nil && loaded {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	})
}

func (c *Chrome) cookies(ctx context.Context, target string) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithUrls([]string{target}).Do(ctx)
		return err
	}))
	if err != nil {
		c.tel.ReportWarning(report_chrome_cookies, err)
		return nil, err
	}

	out := make([]*http.Cookie, len(cookies))
	for i, cookie := range cookies {
		out[i] = &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		}
	}
	return out, nil
}

// Download reuses the browser's cookies in a plain http client, devtools
// downloads can't be streamed into an arbitrary writer.
func (c *Chrome) Download(ctx context.Context, target string, dst io.Writer) (Download, error) {
	link, err := htmlutil.ResolveURL(c.current, target)
	if err != nil {
		return Download{Expected: -1}, err
	}
	cookies, err := c.cookies(ctx, link.String())
	if err != nil {
		return Download{Expected: -1}, err
	}
	return streamDownload(ctx, c.http, link.String(), cookies, dst)
}

func (c *Chrome) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	return err
}
