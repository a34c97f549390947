package osticket

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"osticket-helper/internal/browser"
	"osticket-helper/pkg/htmlutil"
)

const (
	queueOpen   = 1
	queueClosed = 8
)

// SCP117 is the markup of the osTicket 1.17 staff control panel.
func SCP117() Markup {
	return Markup{
		Login:  scpLogin{},
		List:   scpList{},
		Detail: scpDetail{},
		Reply:  scpReply{},
	}
}

type scpLogin struct{}

func (scpLogin) LoginPath() string {
	return "/scp/login.php"
}

func (scpLogin) LoginForm(username, password string) browser.Form {
	return browser.Form{
		Selector: "form#login",
		Fields: []browser.Field{
			{Name: "userid", Value: username},
			{Name: "passwd", Value: password},
		},
		Submit: `button[type="submit"], input[type="submit"]`,
	}
}

func (scpLogin) IsLoginPage(doc *goquery.Document) bool {
	return doc.Find(`form#login input[name="passwd"]`).Length() > 0
}

func (scpLogin) IsAuthenticated(doc *goquery.Document) bool {
	return doc.Find(`a[href*="logout.php"]`).Length() > 0
}

func (scpLogin) LoginMessage(doc *goquery.Document) string {
	return htmlutil.Text(doc.Find("#login-message").First())
}

type scpList struct{}

func (scpList) ListPath(status Status, page int) string {
	queue := queueOpen
	if status == StatusClosed {
		queue = queueClosed
	}
	path := fmt.Sprintf("/scp/tickets.php?queue=%d", queue)
	if page > 1 {
		path += fmt.Sprintf("&p=%d", page)
	}
	return path
}

func ticketIdFromHref(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("id")
}

func (scpList) Rows(doc *goquery.Document) ([]ListRow, error) {
	table := doc.Find("table.list")
	if table.Length() == 0 {
		return nil, &ParseError{View: "list", Reason: "ticket table not found"}
	}

	statusCol := -1
	table.Find("thead tr").First().ChildrenFiltered("th").EachWithBreak(func(i int, th *goquery.Selection) bool {
		if strings.EqualFold(htmlutil.Text(th), "status") {
			statusCol = i
			return false
		}
		return true
	})

	var rows []ListRow
	var parseErr error
	table.Find("tbody tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() == 1 {
			if _, ok := cells.Attr("colspan"); ok {
				// "Query returned 0 results."
				return true
			}
		}
		if cells.Length() < 5 {
			rowId := ticketIdFromHref(tr.Find("a[href]").First().AttrOr("href", ""))
			if rowId == "" {
				rowId = "#" + strconv.Itoa(i+1)
			}
			parseErr = &ParseError{
				View:   "list",
				RowID:  rowId,
				Reason: fmt.Sprintf("expected at least 5 cells, got %d", cells.Length()),
			}
			return false
		}

		link := cells.Eq(1).Find("a").First()
		row := ListRow{
			ID:      ticketIdFromHref(link.AttrOr("href", "")),
			Number:  htmlutil.Text(link),
			Created: htmlutil.Text(cells.Eq(2)),
			Subject: htmlutil.Text(cells.Eq(3).Find("a").First()),
		}
		if row.Subject == "" {
			row.Subject = htmlutil.Text(cells.Eq(3))
		}
		row.Requester = htmlutil.Text(cells.Eq(4))
		if statusCol >= 0 {
			row.Status = htmlutil.Text(cells.Eq(statusCol))
		}

		rowId := row.ID
		if rowId == "" {
			rowId = row.Number
		}
		switch {
		case row.ID == "":
			parseErr = &ParseError{View: "list", RowID: rowId, Reason: "ticket link without id"}
		case row.Number == "":
			parseErr = &ParseError{View: "list", RowID: rowId, Reason: "missing ticket number"}
		case row.Subject == "":
			parseErr = &ParseError{View: "list", RowID: rowId, Reason: "missing subject"}
		case row.Requester == "":
			parseErr = &ParseError{View: "list", RowID: rowId, Reason: "missing requester"}
		case row.Created == "":
			parseErr = &ParseError{View: "list", RowID: rowId, Reason: "missing creation date"}
		}
		if parseErr != nil {
			return false
		}
		rows = append(rows, row)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return rows, nil
}

func (scpList) HasNextPage(doc *goquery.Document, page int) bool {
	next := strconv.Itoa(page + 1)
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		parsed, err := url.Parse(href)
		if err != nil {
			return true
		}
		if parsed.Query().Get("p") == next {
			found = true
			return false
		}
		return true
	})
	return found
}

type scpDetail struct{}

func (scpDetail) DetailPath(ticketId string) string {
	return "/scp/tickets.php?id=" + url.QueryEscape(ticketId)
}

func ticketHeading(doc *goquery.Document) string {
	heading := ""
	doc.Find("h2").EachWithBreak(func(_ int, h2 *goquery.Selection) bool {
		text := htmlutil.Text(h2)
		_, number, ok := strings.Cut(text, "Ticket #")
		if !ok {
			return true
		}
		heading = strings.TrimSpace(number)
		return false
	})
	return heading
}

func (scpDetail) NotFound(doc *goquery.Document) (string, bool) {
	banner := doc.Find("#msg_error").First()
	if banner.Length() == 0 || ticketHeading(doc) != "" {
		return "", false
	}
	return htmlutil.Text(banner), true
}

// labelled returns the cell next to the `th` whose text starts with label.
func labelled(doc *goquery.Document, label string) *goquery.Selection {
	return doc.Find("th").
		FilterFunction(func(_ int, th *goquery.Selection) bool {
			return strings.HasPrefix(htmlutil.Text(th), label)
		}).
		First().
		NextFiltered("td")
}

func (d scpDetail) Status(doc *goquery.Document) (string, error) {
	status := htmlutil.Text(labelled(doc, "Status:"))
	if status == "" {
		return "", &ParseError{View: "detail", RowID: ticketHeading(doc), Reason: "missing status"}
	}
	return status, nil
}

func threadBody(doc *goquery.Document) string {
	var entries []string
	doc.Find(".thread-entry").Each(func(_ int, entry *goquery.Selection) {
		header := htmlutil.InnerText(entry.Find(".header").First())
		body := htmlutil.InnerText(entry.Find(".thread-body").First())
		switch {
		case header != "" && body != "":
			entries = append(entries, header+"\n"+body)
		case body != "":
			entries = append(entries, body)
		case header != "":
			entries = append(entries, header)
		}
	})
	return strings.Join(entries, "\n\n---\n\n")
}

func attachments(doc *goquery.Document) []RawAttachment {
	var out []RawAttachment
	seen := map[string]bool{}

	// links without a usable name are kept, they are named when stored
	doc.Find(`a[href*="file.php?key="]`).Each(func(_ int, a *goquery.Selection) {
		for _, anchor := range htmlutil.GetAnchors(doc.Url, a) {
			href := anchor.Url.String()
			if seen[href] {
				continue
			}
			seen[href] = true
			name := strings.TrimSpace(a.AttrOr("download", ""))
			if name == "" {
				name = anchor.Name
			}
			out = append(out, RawAttachment{Name: name, Href: href})
		}
	})

	doc.Find(`img[src*="file.php"]`).Each(func(i int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if link, err := htmlutil.ResolveURL(doc.Url, src); err == nil {
			src = link.String()
		}
		if seen[src] {
			return
		}
		seen[src] = true
		name := strings.TrimSpace(img.AttrOr("alt", ""))
		if name == "" {
			name = fmt.Sprintf("inline_image_%d.jpg", i+1)
		}
		out = append(out, RawAttachment{Name: name, Href: src, Inline: true})
	})

	return out
}

func (d scpDetail) Parse(doc *goquery.Document) (DetailFields, error) {
	number := ticketHeading(doc)
	if number == "" {
		return DetailFields{}, &ParseError{View: "detail", Reason: "missing ticket heading"}
	}
	fail := func(reason string) (DetailFields, error) {
		return DetailFields{}, &ParseError{View: "detail", RowID: number, Reason: reason}
	}

	subject := htmlutil.Text(doc.Find("h3.title").First())
	if subject == "" {
		subject = htmlutil.Text(labelled(doc, "Subject:"))
	}
	userCell := labelled(doc, "User:")
	requester := htmlutil.Text(userCell.Find("a").First())
	if requester == "" {
		requester = htmlutil.Text(userCell)
	}

	fields := DetailFields{
		Number:      number,
		Subject:     subject,
		Requester:   requester,
		Email:       htmlutil.Text(labelled(doc, "Email:")),
		Status:      htmlutil.Text(labelled(doc, "Status:")),
		Created:     htmlutil.Text(labelled(doc, "Create Date:")),
		Body:        threadBody(doc),
		Attachments: attachments(doc),
	}

	switch {
	case fields.Subject == "":
		return fail("missing subject")
	case fields.Requester == "":
		return fail("missing requester")
	case fields.Status == "":
		return fail("missing status")
	case fields.Created == "":
		return fail("missing creation date")
	case fields.Body == "":
		return fail("missing message thread")
	}
	return fields, nil
}

type scpReply struct{}

func (scpReply) ReplyForm(doc *goquery.Document, message string, targets []string) (browser.Form, error) {
	form := doc.Find("form#reply").First()
	if form.Length() == 0 {
		return browser.Form{}, &ParseError{View: "reply", RowID: ticketHeading(doc), Reason: "reply form not found"}
	}
	if form.Find(`textarea[name="response"]`).Length() == 0 {
		return browser.Form{}, &ParseError{View: "reply", RowID: ticketHeading(doc), Reason: "response field not found"}
	}

	statusValue := ""
	for _, target := range targets {
		form.Find(`select[name="reply_status_id"] option`).EachWithBreak(func(_ int, option *goquery.Selection) bool {
			if !strings.EqualFold(htmlutil.Text(option), target) {
				return true
			}
			statusValue = option.AttrOr("value", "")
			return false
		})
		if statusValue != "" {
			break
		}
	}
	if statusValue == "" {
		return browser.Form{}, &ParseError{
			View:   "reply",
			RowID:  ticketHeading(doc),
			Reason: fmt.Sprintf("no status option among %v", targets),
		}
	}

	body := strings.ReplaceAll(html.EscapeString(message), "\n", "<br>")
	return browser.Form{
		Selector: "form#reply",
		Fields: []browser.Field{
			{Name: "response", Value: "<p>" + body + "</p>"},
			{Name: "reply_status_id", Value: statusValue},
		},
	}, nil
}

func (scpReply) Rejected(doc *goquery.Document) (string, bool) {
	banner := doc.Find("#msg_error").First()
	if banner.Length() == 0 {
		return "", false
	}
	return htmlutil.Text(banner), true
}
