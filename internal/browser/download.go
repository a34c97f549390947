package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Url    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("browser: %s returned http %d", e.Url, e.Status)
}

// streamDownload performs a GET with `client` and copies the body into dst
// without buffering it in memory.
func streamDownload(ctx context.Context, client *resty.Client, target string, cookies []*http.Cookie, dst io.Writer) (Download, error) {
	res, err := client.R().
		SetContext(ctx).
		SetCookies(cookies).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return Download{Expected: -1}, fmt.Errorf("download %s: %w", target, err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return Download{Expected: -1}, &StatusError{Url: target, Status: res.StatusCode()}
	}

	result := Download{
		Expected: res.RawResponse.ContentLength,
		MimeType: res.Header().Get("Content-Type"),
	}
	written, err := io.Copy(dst, body)
	result.Written = written
	if err != nil {
		return result, fmt.Errorf("download %s: %w", target, err)
	}
	return result, nil
}
