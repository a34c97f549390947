package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"osticket-helper/internal/components/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><body>
<form id="reply" action="tickets.php?id=7" method="post">
	<input type="hidden" name="__CSRFToken__" value="tok">
	<input type="hidden" name="a" value="reply">
	<input type="checkbox" name="emailreply" value="1" checked>
	<input type="checkbox" name="signature" value="1">
	<input type="text" name="disabled" value="x" disabled>
	<textarea name="response">old</textarea>
	<select name="reply_status_id">
		<option value="1">Open</option>
		<option value="2" selected>Resolved</option>
	</select>
	<input type="file" name="attachment">
	<button type="submit" name="submit" value="post">Post Reply</button>
	<input type="reset" value="Reset">
</form>
</body></html>`

func TestSerializeForm(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(formPage))
	require.NoError(t, err)

	values := serializeForm(doc.Find("form#reply"), "")
	expect := url.Values{
		"__CSRFToken__":   {"tok"},
		"a":               {"reply"},
		"emailreply":      {"1"},
		"response":        {"old"},
		"reply_status_id": {"2"},
		"submit":          {"post"},
	}
	if diff := cmp.Diff(expect, values); diff != "" {
		t.Fatalf("unexpected form values (-want +got):\n%s", diff)
	}
}

func TestHTTPSubmitAndDownload(t *testing.T) {
	var posted url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/scp/tickets.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			err := r.ParseForm()
			require.NoError(t, err)
			posted = r.PostForm
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			http.Redirect(w, r, "/scp/tickets.php?id=7&done=1", http.StatusFound)
			return
		}
		fmt.Fprint(w, formPage)
	})
	mux.HandleFunc("/file.php", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 test")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	engine, err := NewHTTP(HTTPOptions{BaseUrl: server.URL, RequestsPerSecond: 100}, telemetry.SlogAPI{})
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	_, err = engine.Navigate(ctx, server.URL+"/scp/tickets.php?id=7")
	require.NoError(t, err)

	page, err := engine.Submit(ctx, Form{
		Selector: "form#reply",
		Fields: []Field{
			{Name: "response", Value: "<p>Paid</p>"},
			{Name: "reply_status_id", Value: "1"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "1", page.Url.Query().Get("done"))
	require.Equal(t, "<p>Paid</p>", posted.Get("response"))
	require.Equal(t, "1", posted.Get("reply_status_id"))
	require.Equal(t, "tok", posted.Get("__CSRFToken__"))

	var buf bytes.Buffer
	download, err := engine.Download(ctx, "/file.php?key=k", &buf)
	require.NoError(t, err)
	require.True(t, download.Complete())
	require.Equal(t, "%PDF-1.4 test", buf.String())
	require.Equal(t, "application/pdf", download.MimeType)

	_, err = engine.Submit(ctx, Form{Selector: "form#missing"})
	require.ErrorIs(t, err, ErrNoForm)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
	_, err = engine.Navigate(ctx, "/scp/")
	require.ErrorIs(t, err, ErrClosed)
}

func TestHTTPDownloadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine, err := NewHTTP(HTTPOptions{BaseUrl: server.URL, RequestsPerSecond: 100}, telemetry.SlogAPI{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = engine.Download(context.Background(), server.URL+"/file.php?key=gone", &buf)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
}
