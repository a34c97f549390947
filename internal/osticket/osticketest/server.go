// Package osticketest is a fake osTicket 1.17 staff control panel for tests.
// It renders the same markup as the real one for the pages the helper uses:
// login, ticket queues, ticket view with its reply form, and file downloads.
package osticketest

import (
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

//go:embed testdata/*.html
var fixtures embed.FS

var templates = template.Must(template.ParseFS(fixtures, "testdata/*.html"))

const (
	cookieName = "OSTSESSID"
	csrfToken  = "b1946ac92492d2347c6235b4d2611184"

	StatusOpen     = "Open"
	StatusResolved = "Resolved"
	StatusClosed   = "Closed"
)

var replyStatuses = map[string]string{
	"1": StatusOpen,
	"2": StatusResolved,
	"3": StatusClosed,
}

type File struct {
	Name    string
	Key     string
	Content []byte
	// Fail makes downloads answer with http 500.
	Fail bool
	// Truncate announces the full length but only sends half of the content.
	Truncate bool
}

func (f File) SizeLabel() string {
	return fmt.Sprintf("%d bytes", len(f.Content))
}

type Entry struct {
	Kind   string
	Author string
	Posted string
	Body   template.HTML
	Files  []File
	// Inline files are rendered as images within the body.
	Inline []File
}

type Ticket struct {
	ID        string
	Number    string
	Subject   string
	Requester string
	Email     string
	Status    string
	Created   string
	Thread    []Entry
}

type Reply struct {
	TicketID string
	Response string
	StatusID string
}

// Server is the fake control panel. Tickets are listed in slice order.
type Server struct {
	*httptest.Server

	Username string
	Password string
	Tickets  []*Ticket
	// PageSize is the amount of rows per list page, 0 means 25.
	PageSize int
	// ShowStatus adds a status column to the ticket list, like customized
	// queues do.
	ShowStatus bool
	// IgnoreReplyStatus keeps the ticket status untouched when replying.
	IgnoreReplyStatus bool
	// RejectReply is shown as an error banner instead of accepting replies.
	RejectReply string
	// OnDownload is called with the key of every requested file before it is
	// answered.
	OnDownload func(key string)

	mutex     sync.Mutex
	sessions  map[string]bool
	logins    int
	replies   []Reply
	downloads map[string]int
}

// New starts a server with one account, it is closed with the test.
func New(t interface{ Cleanup(func()) }, username, password string) *Server {
	s := &Server{
		Username:  username,
		Password:  password,
		sessions:  map[string]bool{},
		downloads: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/scp/login.php", s.handleLogin)
	mux.HandleFunc("/scp/tickets.php", s.requireSession(s.handleTickets))
	mux.HandleFunc("/file.php", s.requireSession(s.handleFile))
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Ticket returns the ticket with the given id.
func (s *Server) Ticket(id string) *Ticket {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ticket(id)
}

func (s *Server) ticket(id string) *Ticket {
	for _, t := range s.Tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ExpireSessions logs every client out, as if their session timed out.
func (s *Server) ExpireSessions() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions = map[string]bool{}
}

func (s *Server) Logins() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.logins
}

func (s *Server) Replies() []Reply {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Reply(nil), s.replies...)
}

// Downloads returns how many times the file with `key` was served.
func (s *Server) Downloads(key string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.downloads[key]
}

func render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.WriteHeader(status)
	err := templates.ExecuteTemplate(w, name, data)
	if err != nil {
		panic(err)
	}
}

func (s *Server) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.sessions[cookie.Value]
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			http.Redirect(w, r, "/scp/login.php", http.StatusFound)
			return
		}
		next(w, r)
	}
}

type loginPage struct {
	Message string
	Token   string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		if s.authenticated(r) {
			http.Redirect(w, r, "/scp/tickets.php", http.StatusFound)
			return
		}
		render(w, http.StatusOK, "login.html", loginPage{Message: "Authentication Required", Token: csrfToken})
		return
	}

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("__CSRFToken__") != csrfToken || r.PostForm.Get("do") != "scplogin" {
		render(w, http.StatusOK, "login.html", loginPage{Message: "Invalid CSRF Token __CSRFToken__", Token: csrfToken})
		return
	}
	if r.PostForm.Get("userid") != s.Username || r.PostForm.Get("passwd") != s.Password {
		render(w, http.StatusOK, "login.html", loginPage{Message: "Access denied", Token: csrfToken})
		return
	}

	buf := make([]byte, 16)
	rand.Read(buf)
	session := hex.EncodeToString(buf)

	s.mutex.Lock()
	s.sessions[session] = true
	s.logins++
	s.mutex.Unlock()

	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: session, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/scp/tickets.php", http.StatusFound)
}

type listRow struct {
	ID        string
	Number    string
	Created   string
	Subject   string
	Requester string
	Status    string
}

type listPage struct {
	Title      string
	Queue      int
	QueueName  string
	Page       int
	Pages      []int
	ShowStatus bool
	Rows       []listRow
}

type ticketPage struct {
	Title  string
	Token  string
	Error  string
	Notice string
	Ticket *Ticket
}

func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	switch {
	case id != "" && r.Method == http.MethodPost:
		s.handleReply(w, r, id)
	case id != "":
		s.handleTicket(w, id, "")
	default:
		s.handleList(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	queue, _ := strconv.Atoi(r.URL.Query().Get("queue"))
	if queue == 0 {
		queue = 1
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("p"))
	if page < 1 {
		page = 1
	}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	s.mutex.Lock()
	var rows []listRow
	for _, t := range s.Tickets {
		open := t.Status == StatusOpen
		if (queue == 1) != open {
			continue
		}
		rows = append(rows, listRow{
			ID:        t.ID,
			Number:    t.Number,
			Created:   t.Created,
			Subject:   t.Subject,
			Requester: t.Requester,
			Status:    t.Status,
		})
	}
	showStatus := s.ShowStatus
	s.mutex.Unlock()

	data := listPage{
		Title:      "Tickets",
		Queue:      queue,
		QueueName:  "Open",
		Page:       page,
		ShowStatus: showStatus,
	}
	if queue != 1 {
		data.QueueName = "Closed"
	}
	pageCount := (len(rows) + pageSize - 1) / pageSize
	for i := 1; i <= pageCount; i++ {
		data.Pages = append(data.Pages, i)
	}
	start := (page - 1) * pageSize
	if start < len(rows) {
		data.Rows = rows[start:min(start+pageSize, len(rows))]
	}
	render(w, http.StatusOK, "list.html", data)
}

func (s *Server) handleTicket(w http.ResponseWriter, id, banner string) {
	s.mutex.Lock()
	t := s.ticket(id)
	var snapshot *Ticket
	if t != nil {
		copied := *t
		snapshot = &copied
	}
	s.mutex.Unlock()

	if snapshot == nil {
		render(w, http.StatusOK, "ticket.html", ticketPage{
			Title: "Tickets",
			Error: "Access Denied or Invalid ticket ID",
		})
		return
	}
	render(w, http.StatusOK, "ticket.html", ticketPage{
		Title:  "Ticket #" + snapshot.Number,
		Token:  csrfToken,
		Error:  banner,
		Ticket: snapshot,
	})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, id string) {
	err := r.ParseMultipartForm(1 << 20)
	if err != nil && err != http.ErrNotMultipart {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("__CSRFToken__") != csrfToken || r.PostForm.Get("a") != "reply" {
		s.handleTicket(w, id, "Invalid CSRF token")
		return
	}
	if s.RejectReply != "" {
		s.handleTicket(w, id, s.RejectReply)
		return
	}

	s.mutex.Lock()
	t := s.ticket(id)
	if t == nil {
		s.mutex.Unlock()
		s.handleTicket(w, id, "")
		return
	}
	reply := Reply{
		TicketID: id,
		Response: r.PostForm.Get("response"),
		StatusID: r.PostForm.Get("reply_status_id"),
	}
	s.replies = append(s.replies, reply)
	if status, ok := replyStatuses[reply.StatusID]; ok && !s.IgnoreReplyStatus {
		t.Status = status
	}
	s.mutex.Unlock()

	http.Redirect(w, r, "/scp/tickets.php?id="+id+"#reply", http.StatusFound)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")

	s.mutex.Lock()
	var file *File
	for _, t := range s.Tickets {
		for _, e := range t.Thread {
			for _, f := range append(append([]File(nil), e.Files...), e.Inline...) {
				if f.Key == key {
					copied := f
					file = &copied
				}
			}
		}
	}
	s.downloads[key]++
	hook := s.OnDownload
	s.mutex.Unlock()

	if hook != nil {
		hook(key)
	}

	switch {
	case file == nil:
		http.NotFound(w, r)
	case file.Fail:
		http.Error(w, "storage backend unavailable", http.StatusInternalServerError)
	case file.Truncate:
		w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
		w.WriteHeader(http.StatusOK)
		w.Write(file.Content[:len(file.Content)/2])
	default:
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
		w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
		w.WriteHeader(http.StatusOK)
		w.Write(file.Content)
	}
}
