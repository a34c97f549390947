package osticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"osticket-helper/internal/browser"
	"osticket-helper/internal/components/assert"
	"osticket-helper/internal/components/telemetry"
	"osticket-helper/pkg/htmlutil"
)

const (
	report_session_login    = "session.login"
	report_session_relogin  = "session.relogin"
	report_session_navigate = "session.navigate"
	report_session_close    = "session.close"
)

var tracer = otel.Tracer("osticket-helper/internal/osticket")

type Timeouts struct {
	Login      time.Duration
	Navigation time.Duration
	Download   time.Duration
}

type Options struct {
	BaseUrl  string
	Username string
	// Password is the already resolved credential.
	Password string
	Markup   Markup
	Timeouts Timeouts
	// DateFormat is the go layout of dates shown by the control panel.
	DateFormat string
	Location   *time.Location
	// ResolvedStates are the statuses that count as resolved, the first one
	// offered by the reply form is chosen when resolving.
	ResolvedStates []string
}

func (o *Options) setDefaults() {
	if o.Markup.Login == nil {
		o.Markup = SCP117()
	}
	if o.Timeouts.Login == 0 {
		o.Timeouts.Login = 10 * time.Second
	}
	if o.Timeouts.Navigation == 0 {
		o.Timeouts.Navigation = 30 * time.Second
	}
	if o.Timeouts.Download == 0 {
		o.Timeouts.Download = 60 * time.Second
	}
	if o.DateFormat == "" {
		o.DateFormat = "1/2/06 3:04 PM"
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if len(o.ResolvedStates) == 0 {
		o.ResolvedStates = []string{"Resolved", "Closed"}
	}
}

// Snapshot is the document shown after a navigation or submission.
type Snapshot struct {
	Url    *url.URL
	Status int
	Doc    *goquery.Document
}

// Session is one authenticated control panel session. It is owned by a single
// caller, every method uses the engine's one current page.
type Session struct {
	opts   Options
	base   *url.URL
	engine browser.Engine
	tel    telemetry.API

	authenticated bool
	relogged      bool
	closed        bool
}

// Login authenticates `engine` against the control panel. The session takes
// ownership of the engine: it is closed by Session.Close, or right away if
// login fails.
func Login(ctx context.Context, engine browser.Engine, opts Options, tel telemetry.API) (*Session, error) {
	assert.NotNil(engine)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)
	opts.setDefaults()

	base, err := url.Parse(strings.TrimRight(opts.BaseUrl, "/") + "/")
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("%w: invalid base url: %w", ErrAuth, err)
	}

	s := &Session{
		opts:   opts,
		base:   base,
		engine: engine,
		tel:    telemetry.NewScopedAPI("osticket", tel),
	}
	err = s.login(ctx)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) Options() Options {
	return s.opts
}

func (s *Session) Markup() Markup {
	return s.opts.Markup
}

// Url resolves a control panel path against the base url.
func (s *Session) Url(path string) string {
	link, err := htmlutil.ResolveURL(s.base, strings.TrimLeft(path, "/"))
	if err != nil {
		return s.base.String() + strings.TrimLeft(path, "/")
	}
	return link.String()
}

func snapshot(page browser.Page) (Snapshot, error) {
	doc, err := page.Document()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Url: page.Url, Status: page.Status, Doc: doc}, nil
}

func (s *Session) login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "osticket.login")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Login)
	defer cancel()

	loginView := s.opts.Markup.Login
	fail := func(err error) error {
		s.authenticated = false
		span.SetStatus(codes.Error, err.Error())
		s.tel.ReportWarning(report_session_login, err)
		return err
	}

	page, err := s.engine.Navigate(ctx, s.Url(loginView.LoginPath()))
	if err != nil {
		return fail(wrapContext(ErrAuth, fmt.Errorf("load login page: %w", err)))
	}
	snap, err := snapshot(page)
	if err != nil {
		return fail(fmt.Errorf("%w: parse login page: %w", ErrAuth, err))
	}
	if loginView.IsAuthenticated(snap.Doc) {
		s.authenticated = true
		return nil
	}
	if !loginView.IsLoginPage(snap.Doc) {
		return fail(fmt.Errorf("%w: %w", ErrAuth, &ParseError{View: "login", Reason: "login form not found"}))
	}

	page, err = s.engine.Submit(ctx, loginView.LoginForm(s.opts.Username, s.opts.Password))
	if err != nil {
		return fail(wrapContext(ErrAuth, fmt.Errorf("submit login form: %w", err)))
	}
	snap, err = snapshot(page)
	if err != nil {
		return fail(fmt.Errorf("%w: parse landing page: %w", ErrAuth, err))
	}
	if !loginView.IsAuthenticated(snap.Doc) {
		message := loginView.LoginMessage(snap.Doc)
		if message == "" {
			message = "no authenticated landing page after login"
		}
		return fail(fmt.Errorf("%w: %s as %q", ErrAuth, message, s.opts.Username))
	}

	s.authenticated = true
	s.tel.ReportDebug("logged in", s.opts.Username, s.opts.BaseUrl)
	return nil
}

// relogin logs in again after the session expired, it is allowed once per
// session so a broken account doesn't get locked out by repeated attempts.
func (s *Session) relogin(ctx context.Context) error {
	if s.relogged {
		return ErrSessionExpired
	}
	s.relogged = true
	s.tel.ReportWarning(report_session_relogin, "session expired, logging in again")

	err := s.login(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrClosed
	}
	if !s.authenticated {
		return fmt.Errorf("%w: not authenticated", ErrAuth)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Session) navigate(ctx context.Context, target string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Navigation)
	defer cancel()

	page, err := s.engine.Navigate(ctx, target)
	if err != nil {
		return Snapshot{}, wrapContext(ErrNavigation, err)
	}
	snap, err := snapshot(page)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: parse %s: %w", ErrNavigation, target, err)
	}
	return snap, nil
}

// Navigate loads a control panel path. Being sent back to the login page
// triggers at most one re-login per session before failing with
// ErrSessionExpired.
func (s *Session) Navigate(ctx context.Context, path string) (snap Snapshot, err error) {
	target := s.Url(path)
	ctx, span := tracer.Start(ctx, "osticket.navigate", trace.WithAttributes(attribute.String("url", target)))
	defer func() { endSpan(span, err) }()

	err = s.check()
	if err != nil {
		return Snapshot{}, err
	}

	snap, err = s.navigate(ctx, target)
	if err != nil {
		s.tel.ReportWarning(report_session_navigate, err, target)
		return Snapshot{}, err
	}
	if !s.opts.Markup.Login.IsLoginPage(snap.Doc) {
		return snap, nil
	}

	err = s.relogin(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err = s.navigate(ctx, target)
	if err != nil {
		return Snapshot{}, err
	}
	if s.opts.Markup.Login.IsLoginPage(snap.Doc) {
		return Snapshot{}, ErrSessionExpired
	}
	return snap, nil
}

// Submit fills and submits a form of the current page. It never retries,
// landing on the login page fails with ErrSessionExpired.
func (s *Session) Submit(ctx context.Context, form browser.Form) (snap Snapshot, err error) {
	ctx, span := tracer.Start(ctx, "osticket.submit", trace.WithAttributes(attribute.String("form", form.Selector)))
	defer func() { endSpan(span, err) }()

	err = s.check()
	if err != nil {
		return Snapshot{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Navigation)
	defer cancel()

	page, err := s.engine.Submit(ctx, form)
	if errors.Is(err, browser.ErrNoForm) {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err != nil {
		return Snapshot{}, wrapContext(ErrNavigation, err)
	}
	snap, err = snapshot(page)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: parse submission result: %w", ErrNavigation, err)
	}
	if s.opts.Markup.Login.IsLoginPage(snap.Doc) {
		return Snapshot{}, ErrSessionExpired
	}
	return snap, nil
}

// Download streams a file of the session into dst.
func (s *Session) Download(ctx context.Context, target string, dst io.Writer) (dl browser.Download, err error) {
	ctx, span := tracer.Start(ctx, "osticket.download", trace.WithAttributes(attribute.String("url", target)))
	defer func() { endSpan(span, err) }()

	err = s.check()
	if err != nil {
		return browser.Download{Expected: -1}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Download)
	defer cancel()

	link, err := htmlutil.ResolveURL(s.base, target)
	if err != nil {
		return browser.Download{Expected: -1}, err
	}
	dl, err = s.engine.Download(ctx, link.String(), dst)
	if errors.Is(err, context.DeadlineExceeded) {
		return dl, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return dl, err
}

// Close releases the engine, it is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.authenticated = false
	err := s.engine.Close()
	if err != nil {
		s.tel.ReportWarning(report_session_close, err)
	}
	return err
}
