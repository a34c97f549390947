package receipt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"osticket-helper/internal/osticket"

	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T, script string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh available")
	}
	path := filepath.Join(t.TempDir(), "typst")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

func TestTypstCompile(t *testing.T) {
	cases := []struct {
		name    string
		script  string
		timeout time.Duration
		ok      bool
		timeOut bool
		output  string
	}{
		{
			name:   "writes output",
			script: `printf '%%PDF-1.4' > "$5"`,
			ok:     true,
		},
		{
			name:   "non-zero exit",
			script: "echo 'error: unexpected argument' >&2; exit 1",
			output: "error: unexpected argument",
		},
		{
			name:   "no output",
			script: "exit 0",
		},
		{
			name:    "timeout",
			script:  "exec sleep 5",
			timeout: 100 * time.Millisecond,
			timeOut: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			source := filepath.Join(dir, "summary.typ")
			require.NoError(t, os.WriteFile(source, []byte("= hi"), 0644))

			compiler := Typst{Binary: fakeBinary(t, c.script), Timeout: c.timeout}
			err := compiler.Compile(context.Background(), source, filepath.Join(dir, "summary.pdf"))
			if c.ok {
				require.NoError(t, err)
				return
			}

			var renderErr *RenderError
			require.ErrorAs(t, err, &renderErr)
			require.Equal(t, "compile", renderErr.Stage)
			require.ErrorIs(t, err, osticket.ErrRender)
			require.Equal(t, c.output, renderErr.Output)
			if c.timeOut {
				require.ErrorIs(t, err, osticket.ErrTimeout)
			} else {
				require.NotErrorIs(t, err, osticket.ErrTimeout)
			}
		})
	}
}
