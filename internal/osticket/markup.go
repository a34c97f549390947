package osticket

import (
	"github.com/PuerkitoBio/goquery"

	"osticket-helper/internal/browser"
)

// Markup bundles the adapters that know where things live in the control
// panel's html. Extractors never use selectors directly, supporting another
// UI version means providing another Markup.
type Markup struct {
	Login  LoginView
	List   ListView
	Detail DetailView
	Reply  ReplyView
}

type LoginView interface {
	LoginPath() string
	// LoginForm fills the login form of the page at LoginPath.
	LoginForm(username, password string) browser.Form
	// IsLoginPage reports whether doc asks for credentials, seeing it after
	// login means the session expired.
	IsLoginPage(doc *goquery.Document) bool
	IsAuthenticated(doc *goquery.Document) bool
	// LoginMessage returns the message shown next to the login form, if any.
	LoginMessage(doc *goquery.Document) string
}

// ListRow is one row of the ticket list with its cells as displayed.
type ListRow struct {
	ID        string
	Number    string
	Subject   string
	Requester string
	Created   string
	// Status is empty unless the queue shows a status column, the default
	// queues of 1.17 don't.
	Status string
}

type ListView interface {
	// ListPath is the path of a 1-indexed page of the list filtered by status.
	ListPath(status Status, page int) string
	Rows(doc *goquery.Document) ([]ListRow, error)
	HasNextPage(doc *goquery.Document, page int) bool
}

type RawAttachment struct {
	Name   string
	Href   string
	Inline bool
}

// DetailFields is the content of a ticket view as displayed.
type DetailFields struct {
	Number      string
	Subject     string
	Requester   string
	Email       string
	Status      string
	Created     string
	Body        string
	Attachments []RawAttachment
}

type DetailView interface {
	DetailPath(ticketId string) string
	// NotFound returns the error banner if doc says the ticket does not exist
	// or is not accessible.
	NotFound(doc *goquery.Document) (string, bool)
	Parse(doc *goquery.Document) (DetailFields, error)
	// Status reads only the status of the ticket shown in doc.
	Status(doc *goquery.Document) (string, error)
}

type ReplyView interface {
	// ReplyForm fills the reply form with `message` and the first status
	// among `targets` the form offers.
	ReplyForm(doc *goquery.Document, message string, targets []string) (browser.Form, error)
	// Rejected returns the error banner shown after a failed submission.
	Rejected(doc *goquery.Document) (string, bool)
}
