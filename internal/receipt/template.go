package receipt

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
)

//go:embed template.typ
var defaultTemplate string

// Markup is typst source that is inserted without escaping. Only the
// assembler produces it.
type Markup string

type Labels struct {
	Ticket      string
	Subject     string
	Sender      string
	Created     string
	Processed   string
	Message     string
	Attachments string
}

// Fields is everything a receipt template can reference. Text fields are
// always escaped when rendered.
type Fields struct {
	TitleBlock       Markup
	LogoBlock        Markup
	AttachmentsBlock Markup

	DocumentTitle string
	TicketID      string
	TicketNumber  string
	Subject       string
	UserName      string
	DateDisplay   string
	TodayDisplay  string
	Message       string
	Lang          string
	Labels        Labels
}

var langPattern = regexp.MustCompile(`^[a-z]{2,3}$`)

func (f Fields) values() map[string]string {
	lang := f.Lang
	if !langPattern.MatchString(lang) {
		lang = "en"
	}
	text := map[string]string{
		"document_title":  f.DocumentTitle,
		"ticket_id":       f.TicketID,
		"ticket_number":   f.TicketNumber,
		"subject":         f.Subject,
		"user_name":       f.UserName,
		"date_display":    f.DateDisplay,
		"today_display":   f.TodayDisplay,
		"message":         f.Message,
		"lang":            lang,
		"lbl_ticket":      f.Labels.Ticket,
		"lbl_subject":     f.Labels.Subject,
		"lbl_sender":      f.Labels.Sender,
		"lbl_created":     f.Labels.Created,
		"lbl_processed":   f.Labels.Processed,
		"lbl_message":     f.Labels.Message,
		"lbl_attachments": f.Labels.Attachments,
	}
	out := make(map[string]string, len(text)+3)
	for name, value := range text {
		out[name] = Escape(value)
	}
	out["title_block"] = string(f.TitleBlock)
	out["logo_block"] = string(f.LogoBlock)
	out["attachments_block"] = string(f.AttachmentsBlock)
	return out
}

// FieldNames lists every placeholder a template may use.
func FieldNames() []string {
	names := make([]string, 0, 19)
	for name := range (Fields{}).values() {
		names = append(names, name)
	}
	return names
}

type segment struct {
	literal string
	field   string
}

// Template is a typst source with `$name` or `${name}` placeholders, `$$` is a
// literal dollar sign.
type Template struct {
	segments []segment
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// ParseTemplate checks every placeholder of source against the field schema.
func ParseTemplate(source string) (*Template, error) {
	known := map[string]bool{}
	for _, name := range FieldNames() {
		known[name] = true
	}

	t := &Template{}
	var literal strings.Builder
	flush := func() {
		if literal.Len() > 0 {
			t.segments = append(t.segments, segment{literal: literal.String()})
			literal.Reset()
		}
	}
	addField := func(name string, offset int) error {
		if !known[name] {
			line := strings.Count(source[:offset], "\n") + 1
			return &RenderError{Stage: "template", Err: fmt.Errorf("unknown placeholder $%s on line %d", name, line)}
		}
		flush()
		t.segments = append(t.segments, segment{field: name})
		return nil
	}

	for i := 0; i < len(source); i++ {
		c := source[i]
		if c != '$' || i+1 >= len(source) {
			literal.WriteByte(c)
			continue
		}

		next := source[i+1]
		switch {
		case next == '$':
			literal.WriteByte('$')
			i++
		case next == '{':
			end := strings.IndexByte(source[i+2:], '}')
			if end < 0 {
				return nil, &RenderError{Stage: "template", Err: fmt.Errorf("unterminated placeholder at offset %d", i)}
			}
			err := addField(source[i+2:i+2+end], i)
			if err != nil {
				return nil, err
			}
			i += 2 + end
		case isIdentStart(next):
			end := i + 1
			for end < len(source) && isIdent(source[end]) {
				end++
			}
			err := addField(source[i+1:end], i)
			if err != nil {
				return nil, err
			}
			i = end - 1
		default:
			literal.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// LoadTemplate reads a template from path, an empty path means the built-in
// template.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return ParseTemplate(defaultTemplate)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, &RenderError{Stage: "template", Err: err}
	}
	return ParseTemplate(string(source))
}

func (t *Template) Render(fields Fields) string {
	values := fields.values()
	var b strings.Builder
	for _, s := range t.segments {
		if s.field == "" {
			b.WriteString(s.literal)
			continue
		}
		b.WriteString(values[s.field])
	}
	return b.String()
}
