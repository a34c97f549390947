package osticket

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen   Status = "Open"
	StatusClosed Status = "Closed"
)

func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "open":
		return StatusOpen, nil
	case "closed":
		return StatusClosed, nil
	}
	return "", fmt.Errorf("unknown ticket status %q, expected open or closed", value)
}

type TicketSummary struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	Subject       string    `json:"subject"`
	RequesterName string    `json:"requester_name"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	Url           string    `json:"url"`
}

// Group is every ticket of one requester in page order.
type Group struct {
	RequesterName string          `json:"requester_name"`
	Tickets       []TicketSummary `json:"tickets"`
}

// Grouped maps requester names to their tickets while keeping the order in
// which requesters were first seen.
type Grouped []Group

func GroupByRequester(tickets []TicketSummary) Grouped {
	index := map[string]int{}
	var out Grouped
	for _, t := range tickets {
		i, ok := index[t.RequesterName]
		if !ok {
			i = len(out)
			index[t.RequesterName] = i
			out = append(out, Group{RequesterName: t.RequesterName})
		}
		out[i].Tickets = append(out[i].Tickets, t)
	}
	return out
}

func (g Grouped) Get(requester string) []TicketSummary {
	for _, group := range g {
		if group.RequesterName == requester {
			return group.Tickets
		}
	}
	return nil
}

func (g Grouped) Total() int {
	n := 0
	for _, group := range g {
		n += len(group.Tickets)
	}
	return n
}

// FilterRequester keeps the groups whose requester name contains `needle`,
// ignoring case.
func (g Grouped) FilterRequester(needle string) Grouped {
	if needle == "" {
		return g
	}
	needle = strings.ToLower(needle)
	var out Grouped
	for _, group := range g {
		if strings.Contains(strings.ToLower(group.RequesterName), needle) {
			out = append(out, group)
		}
	}
	return out
}

type AttachmentRef struct {
	Filename string `json:"filename"`
	Url      string `json:"url"`
	MimeType string `json:"mime_type"`
	// Inline is set for images embedded in the message body rather than
	// attached as files.
	Inline bool `json:"inline,omitempty"`

	// the fields below are only set once the file is stored locally.
	LocalPath string `json:"local_path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Digest    string `json:"digest,omitempty"`
}

// Stored reports whether the attachment has been written to the inbox.
func (a AttachmentRef) Stored() bool {
	return a.LocalPath != ""
}

// MimeTypeFor infers a mime type from a filename's extension.
func MimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case "":
		return "application/octet-stream"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return mimeType
}

type TicketRecord struct {
	ID             string    `json:"id"`
	Number         string    `json:"number"`
	Url            string    `json:"url"`
	Subject        string    `json:"subject"`
	RequesterName  string    `json:"requester_name"`
	RequesterEmail string    `json:"requester_email"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	// BodyText is every thread entry in order, separated by a horizontal rule.
	BodyText    string          `json:"body_text"`
	Attachments []AttachmentRef `json:"attachments"`
}
