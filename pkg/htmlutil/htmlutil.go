package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// GetText concatenates every text node under `node` as-is.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var blockElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Table:      true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Ul:         true,
	atom.Ol:         true,
}

// InnerText approximates what a browser renders as the text of `sel`: line
// breaks for <br> and block elements, collapsed whitespace inside lines and
// at most one blank line between paragraphs.
func InnerText(sel *goquery.Selection) string {
	var buffer strings.Builder
	for _, n := range sel.Nodes {
		innerTextRecursive(n, &buffer)
	}
	return tidyLines(buffer.String())
}

func innerTextRecursive(node *html.Node, buffer *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		buffer.WriteString(innerWhitespace.ReplaceAllString(node.Data, " "))
		return
	case html.ElementNode:
		switch node.DataAtom {
		case atom.Br:
			buffer.WriteString("\n")
			return
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
	}

	block := node.Type == html.ElementNode && blockElements[node.DataAtom]
	if block {
		buffer.WriteString("\n")
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		innerTextRecursive(child, buffer)
	}
	if block {
		buffer.WriteString("\n")
	}
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func tidyLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = NormalizeSpace(line)
	}
	joined := strings.Join(lines, "\n")
	joined = blankRuns.ReplaceAllString(joined, "\n\n")
	return strings.Trim(joined, "\n")
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizeSpace strips non-printable characters, collapses runs of
// whitespace into a single space and trims the result.
func NormalizeSpace(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Text is NormalizeSpace applied to the text content of `sel`.
func Text(sel *goquery.Selection) string {
	return NormalizeSpace(sel.Text())
}

type Anchor struct {
	Name string
	Url  *url.URL
}

// GetAnchors returns the anchors in `sel` with their hrefs resolved against
// `base`. Anchors without an href or with an unparsable one are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	anchors := []Anchor{}
	sel.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link, err := ResolveURL(base, href)
		if err != nil {
			return
		}
		anchors = append(anchors, Anchor{
			Name: NormalizeSpace(GetText(a.Get(0))),
			Url:  link,
		})
	})
	return anchors
}

// ResolveURL parses `ref` and resolves it relative to `base` if base is not nil.
func ResolveURL(base *url.URL, ref string) (*url.URL, error) {
	link, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if base == nil {
		return link, nil
	}
	return base.ResolveReference(link), nil
}
