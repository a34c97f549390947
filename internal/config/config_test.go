package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t testing.TB, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0600)
	require.NoError(t, err)
}

func TestLoadYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
osticket:
  url: https://help.example.com/
  username: agent
  headless: false
  inbox_dir: inbox
  timeouts:
    navigation: 5
strings:
  formatter:
    ticket: Tiketti
`)

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	o := cfg.OSTicket
	require.Equal(t, "https://help.example.com", o.Url)
	require.False(t, o.IsHeadless())
	require.Equal(t, filepath.Join(dir, "inbox"), o.InboxDir)
	require.Equal(t, filepath.Join(dir, "receipts"), o.ReceiptsDir)
	require.Equal(t, 5, o.Timeouts.Navigation)
	// untouched defaults survive the merge
	require.Equal(t, 10, o.Timeouts.Login)
	require.Equal(t, DriverChrome, o.Driver)
	require.Equal(t, []string{"Resolved", "Closed"}, o.ResolvedStates)

	require.Equal(t, "Tiketti", cfg.Strings.Get("formatter", "ticket", ""))
	require.Equal(t, "Subject", cfg.Strings.Get("formatter", "subject", ""))
	require.Equal(t, "Total: 3 tickets", cfg.Strings.Format("formatter", "total", "", map[string]any{"count": 3}))
}

func TestLoadLocalOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), `{
		// comments are allowed
		osticket: {url: "https://a.example.com", username: "agent", driver: "http"},
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		osticket: {username: "other", password: "hunter2"},
	}`)

	cfg, err := Load(filepath.Join(dir, "config.json5"), dir)
	require.NoError(t, err)
	require.Equal(t, "https://a.example.com", cfg.OSTicket.Url)
	require.Equal(t, "other", cfg.OSTicket.Username)
	require.Equal(t, "hunter2", cfg.OSTicket.Password)
	require.Equal(t, DriverHTTP, cfg.OSTicket.Driver)
	require.True(t, cfg.OSTicket.IsHeadless())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), dir)
	require.ErrorContains(t, err, "config file not found")

	cases := []struct {
		contents string
		expect   string
	}{
		{contents: "osticket:\n  username: a\n", expect: "osticket.url"},
		{contents: "osticket:\n  url: https://x\n", expect: "osticket.username"},
		{contents: "osticket:\n  url: https://x\n  username: a\n  driver: lynx\n", expect: "unknown driver"},
	}
	for _, test := range cases {
		path := filepath.Join(dir, "config.yaml")
		writeFile(t, path, test.contents)
		_, err := Load(path, dir)
		require.ErrorContains(t, err, test.expect)
	}
}

func TestStringsFallback(t *testing.T) {
	s := Strings{"cli": {"reading": "Reading ticket {id}..."}}
	require.Equal(t, "Reading ticket 339...", s.Format("cli", "reading", "", map[string]any{"id": "339"}))
	require.Equal(t, "fallback", s.Get("cli", "missing", "fallback"))
	require.Equal(t, "fallback", s.Get("nope", "missing", "fallback"))
}
