package receipt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"osticket-helper/internal/osticket"

	"github.com/stretchr/testify/require"
)

func sampleFields() Fields {
	return Fields{
		TitleBlock:       `#text(weight: "bold")[Receipt]`,
		AttachmentsBlock: "+ a.png",
		DocumentTitle:    "osTicket #128001",
		TicketID:         "339",
		TicketNumber:     "128001",
		Subject:          "Invoice #42 for $100",
		UserName:         "Jane_Doe",
		DateDisplay:      "15.1.2024",
		TodayDisplay:     "1.2.2024",
		Message:          "Paid.\n#pagebreak()",
		Lang:             "en",
		Labels:           Labels{Ticket: "Ticket", Subject: "Subject"},
	}
}

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("A $ticket_id ${subject}x $$5 $ 9 $title_block $")
	require.NoError(t, err)

	out := tmpl.Render(sampleFields())
	require.Equal(t, `A 339 Invoice \#42 for \$100x $5 $ 9 #text(weight: "bold")[Receipt] $`, out)
}

func TestParseTemplateUnknownPlaceholder(t *testing.T) {
	cases := []string{
		"hello $nope",
		"line\n${subjct}",
		"${subject",
	}
	for _, source := range cases {
		_, err := ParseTemplate(source)
		var renderErr *RenderError
		require.ErrorAs(t, err, &renderErr, source)
		require.Equal(t, "template", renderErr.Stage)
		require.ErrorIs(t, err, osticket.ErrRender)
	}
}

func TestDefaultTemplateUsesOnlyKnownFields(t *testing.T) {
	tmpl, err := LoadTemplate("")
	require.NoError(t, err)

	out := tmpl.Render(sampleFields())
	require.Contains(t, out, `[Invoice \#42 for \$100]`)
	require.Contains(t, out, "[Jane\\_Doe]")
	require.Contains(t, out, `#set text(lang: "en", size: 10pt)`)
	require.NotContains(t, out, "\n#pagebreak()")
	require.NotContains(t, out, "$subject")
}

func TestLoadTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.typ")
	require.NoError(t, os.WriteFile(path, []byte("= ${lbl_ticket} $ticket_number\n"), 0644))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	require.Equal(t, "= Ticket 128001\n", tmpl.Render(sampleFields()))

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.typ"))
	require.ErrorIs(t, err, osticket.ErrRender)
}

func TestLangIsSanitized(t *testing.T) {
	tmpl, err := ParseTemplate(`"$lang"`)
	require.NoError(t, err)

	fields := sampleFields()
	fields.Lang = `en", size: 99pt, x: "`
	require.Equal(t, `"en"`, tmpl.Render(fields))
	fields.Lang = "fi"
	require.Equal(t, `"fi"`, tmpl.Render(fields))
}

func TestRenderIsDeterministic(t *testing.T) {
	tmpl, err := LoadTemplate("")
	require.NoError(t, err)

	first := tmpl.Render(sampleFields())
	require.Equal(t, first, tmpl.Render(sampleFields()))

	later := sampleFields()
	later.TodayDisplay = "9.9.2030"
	second := tmpl.Render(later)

	firstLines := strings.Split(first, "\n")
	secondLines := strings.Split(second, "\n")
	require.Equal(t, len(firstLines), len(secondLines))
	var changed []string
	for i := range firstLines {
		if firstLines[i] != secondLines[i] {
			changed = append(changed, secondLines[i])
		}
	}
	require.Len(t, changed, 1)
	require.Contains(t, changed[0], "9.9.2030")
}
