// Package browser defines the contract the scraping core expects from a browser
// automation engine, along with the engines that implement it.
package browser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoForm is returned by Submit when the current page has no form matching the selector.
var ErrNoForm = errors.New("browser: form not found on current page")

// Page is a snapshot of the document the engine is currently showing.
type Page struct {
	// Url is the final url after redirects.
	Url *url.URL
	// Status is the http status code if the engine knows it, 0 otherwise.
	Status int
	Html   []byte
}

// Document parses the page html.
func (p Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Html))
	if err != nil {
		return nil, err
	}
	doc.Url = p.Url
	return doc, nil
}

type Field struct {
	Name  string
	Value string
}

// Form describes a form submission on the current page: the fields listed
// override the values the form already carries, everything else is sent as-is.
type Form struct {
	// Selector is a css selector matching the form element.
	Selector string
	Fields   []Field
	// Submit is a css selector matching the button to press, if empty the first
	// submit button of the form is used.
	Submit string
}

// Download describes a finished file download.
type Download struct {
	// Written is the amount of bytes written to the destination.
	Written int64
	// Expected is the size announced by the server, -1 if unknown.
	Expected int64
	MimeType string
}

// Complete reports whether every announced byte was written.
func (d Download) Complete() bool {
	return d.Expected < 0 || d.Written == d.Expected
}

// Engine drives one browsing session. Implementations are not safe for
// concurrent use, one page is shown at a time.
type Engine interface {
	// Navigate loads `target` and waits for the document to be ready.
	Navigate(ctx context.Context, target string) (Page, error)
	// Submit fills and submits a form on the current page and waits for the
	// resulting document.
	Submit(ctx context.Context, form Form) (Page, error)
	// Download fetches `target` with the session's cookies into dst.
	Download(ctx context.Context, target string, dst io.Writer) (Download, error)
	// Close releases every resource held by the engine, it is idempotent.
	Close() error
}

// scopeSelector restricts every alternative of the selector list `sel` to
// descendants of `scope`.
func scopeSelector(scope, sel string) string {
	alternatives := strings.Split(sel, ",")
	for i, alt := range alternatives {
		alternatives[i] = scope + " " + strings.TrimSpace(alt)
	}
	return strings.Join(alternatives, ", ")
}
