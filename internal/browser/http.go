package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"osticket-helper/internal/components/assert"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/pkg/htmlutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_http_navigate = "http.navigate"
	report_http_submit   = "http.submit"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var ErrClosed = errors.New("browser: engine closed")

type HTTPOptions struct {
	// BaseUrl restricts redirects to its host.
	BaseUrl string
	// Timeout bounds every single request, 0 means 30 seconds.
	Timeout time.Duration
	// RequestsPerSecond limits the request rate, 0 means 2 per second.
	RequestsPerSecond float64
	CloudflareBypass  bool
	UserAgent         string
}

// HTTP is an Engine that speaks plain HTTP and serializes forms the way a
// browser would. It does not run javascript.
type HTTP struct {
	client  *resty.Client
	current Page
	closed  bool
	tel     telemetry.API
}

func NewHTTP(opts HTTPOptions, tel telemetry.API) (*HTTP, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("browser_http", tel)

	parsedBaseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	perSecond := opts.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	// max burst >= 1 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel)

	return &HTTP{client: client, tel: tel}, nil
}

func (h *HTTP) resolve(target string) (*url.URL, error) {
	return htmlutil.ResolveURL(h.current.Url, target)
}

func (h *HTTP) pageFromResponse(res *resty.Response) (Page, error) {
	page := Page{
		Url:    res.RawResponse.Request.URL,
		Status: res.StatusCode(),
		Html:   res.Body(),
	}
	h.current = page
	if res.StatusCode() >= 500 {
		return page, &StatusError{Url: page.Url.String(), Status: res.StatusCode()}
	}
	return page, nil
}

func (h *HTTP) Navigate(ctx context.Context, target string) (Page, error) {
	if h.closed {
		return Page{}, ErrClosed
	}
	link, err := h.resolve(target)
	if err != nil {
		return Page{}, err
	}

	res, err := h.client.R().
		SetContext(ctx).
		Get(link.String())
	if err != nil {
		h.tel.ReportWarning(report_http_navigate, fmt.Errorf("fetch: %w", err), link.String())
		return Page{}, err
	}
	return h.pageFromResponse(res)
}

func (h *HTTP) Submit(ctx context.Context, form Form) (Page, error) {
	if h.closed {
		return Page{}, ErrClosed
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(h.current.Html))
	if err != nil {
		return Page{}, err
	}
	formSel := doc.Find(form.Selector).First()
	if formSel.Length() == 0 {
		return Page{}, fmt.Errorf("%w: %s", ErrNoForm, form.Selector)
	}

	values := serializeForm(formSel, form.Submit)
	for _, f := range form.Fields {
		values.Set(f.Name, f.Value)
	}

	action, err := h.resolve(formSel.AttrOr("action", ""))
	if err != nil {
		return Page{}, err
	}
	method := strings.ToUpper(formSel.AttrOr("method", http.MethodGet))

	h.tel.ReportDebug(report_http_submit, method, action.String(), form.Selector)

	req := h.client.R().SetContext(ctx)
	var res *resty.Response
	if method == http.MethodPost {
		res, err = req.SetFormDataFromValues(values).Post(action.String())
	} else {
		action.RawQuery = values.Encode()
		res, err = req.Get(action.String())
	}
	if err != nil {
		h.tel.ReportWarning(report_http_submit, fmt.Errorf("submit: %w", err), action.String())
		return Page{}, err
	}
	return h.pageFromResponse(res)
}

// serializeForm collects the successful controls of a form in document order,
// including the submitter matched by `submitSel` (or the first submit button).
func serializeForm(form *goquery.Selection, submitSel string) url.Values {
	values := url.Values{}

	form.Find("input, textarea, select").Each(func(_ int, control *goquery.Selection) {
		name, ok := control.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := control.Attr("disabled"); disabled {
			return
		}

		switch goquery.NodeName(control) {
		case "textarea":
			values.Add(name, control.Text())
		case "select":
			selected := control.Find("option[selected]")
			if selected.Length() == 0 {
				selected = control.Find("option").First()
			}
			selected.Each(func(_ int, option *goquery.Selection) {
				values.Add(name, optionValue(option))
			})
		default:
			switch strings.ToLower(control.AttrOr("type", "text")) {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := control.Attr("checked"); !checked {
					return
				}
				values.Add(name, control.AttrOr("value", "on"))
			default:
				values.Add(name, control.AttrOr("value", ""))
			}
		}
	})

	var submitter *goquery.Selection
	if submitSel != "" {
		submitter = form.Find(submitSel).First()
	} else {
		submitter = form.Find(`button[type=submit], button:not([type]), input[type=submit]`).First()
	}
	if name, ok := submitter.Attr("name"); ok && name != "" {
		values.Add(name, submitter.AttrOr("value", ""))
	}

	return values
}

func optionValue(option *goquery.Selection) string {
	if value, ok := option.Attr("value"); ok {
		return value
	}
	return htmlutil.Text(option)
}

func (h *HTTP) Download(ctx context.Context, target string, dst io.Writer) (Download, error) {
	if h.closed {
		return Download{Expected: -1}, ErrClosed
	}
	link, err := h.resolve(target)
	if err != nil {
		return Download{Expected: -1}, err
	}
	return streamDownload(ctx, h.client, link.String(), nil, dst)
}

func (h *HTTP) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.client.GetClient().CloseIdleConnections()
	return nil
}
