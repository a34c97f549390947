package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parse(t testing.TB, src string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestInnerText(t *testing.T) {
	cases := []struct {
		html   string
		expect string
	}{
		{
			html:   `<div id="x">Hello <b>world</b></div>`,
			expect: "Hello world",
		},
		{
			html:   `<div id="x"><p>first   line</p><p>second<br>third</p></div>`,
			expect: "first line\n\nsecond\nthird",
		},
		{
			html: `<div id="x">  spaced
			out  <script>var a = 1;</script></div>`,
			expect: "spaced out",
		},
	}

	for _, test := range cases {
		doc := parse(t, test.html)
		require.Equal(t, test.expect, InnerText(doc.Find("#x")))
	}
}

func TestGetAnchors(t *testing.T) {
	doc := parse(t, `<ul>
		<li><a href="tickets.php?id=1"> #100 </a></li>
		<li><a>no href</a></li>
		<li><a href="/file.php?key=abc">scan.pdf</a></li>
	</ul>`)
	base, err := url.Parse("https://help.example.com/scp/tickets.php?queue=1")
	require.NoError(t, err)

	anchors := GetAnchors(base, doc.Find("a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "#100", anchors[0].Name)
	require.Equal(t, "https://help.example.com/scp/tickets.php?id=1", anchors[0].Url.String())
	require.Equal(t, "https://help.example.com/file.php?key=abc", anchors[1].Url.String())
}

func TestNormalizeSpace(t *testing.T) {
	require.Equal(t, "a b c", NormalizeSpace(" a\t\tb\n c\u200b "))
}
