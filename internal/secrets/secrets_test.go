package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/require"
)

type fakeGpg struct {
	plaintext string
	calls     int
}

func (f *fakeGpg) Decrypt(ctx context.Context, path string) ([]byte, error) {
	f.calls++
	return []byte(f.plaintext + "\n"), nil
}

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestResolveOrder(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(plain, []byte("  from-file \n"), 0600))
	encrypted := filepath.Join(dir, "secret.gpg")
	require.NoError(t, os.WriteFile(encrypted, []byte("binary"), 0600))

	gpg := &fakeGpg{plaintext: "from-gpg"}

	cases := []struct {
		name   string
		src    Sources
		expect string
	}{
		{
			name:   "env wins over everything",
			src:    Sources{LookupEnv: env(map[string]string{EnvVar: "from-env"}), Inline: "inline", File: plain},
			expect: "from-env",
		},
		{
			name:   "empty env is ignored",
			src:    Sources{LookupEnv: env(map[string]string{EnvVar: ""}), Inline: "inline", File: plain},
			expect: "inline",
		},
		{
			name:   "plaintext file",
			src:    Sources{LookupEnv: env(nil), File: plain},
			expect: "from-file",
		},
		{
			name:   "gpg file",
			src:    Sources{LookupEnv: env(nil), File: encrypted, Gpg: gpg},
			expect: "from-gpg",
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			got, err := Resolve(context.Background(), test.src)
			require.NoError(t, err)
			require.Equal(t, test.expect, got)
		})
	}
	require.Equal(t, 1, gpg.calls)
}

func TestResolveAge(t *testing.T) {
	dir := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	identityPath := filepath.Join(dir, "key.txt")
	require.NoError(t, os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600))

	secretPath := filepath.Join(dir, "password.age")
	out, err := os.Create(secretPath)
	require.NoError(t, err)
	w, err := age.Encrypt(out, identity.Recipient())
	require.NoError(t, err)
	_, err = w.Write([]byte("from-age\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	got, err := Resolve(context.Background(), Sources{
		LookupEnv:   env(nil),
		File:        secretPath,
		AgeIdentity: identityPath,
	})
	require.NoError(t, err)
	require.Equal(t, "from-age", got)

	_, err = Resolve(context.Background(), Sources{LookupEnv: env(nil), File: secretPath})
	require.ErrorContains(t, err, "age_identity")
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(context.Background(), Sources{LookupEnv: env(nil)})
	require.ErrorIs(t, err, ErrNoCredential)

	_, err = Resolve(context.Background(), Sources{LookupEnv: env(nil), File: "/does/not/exist"})
	require.ErrorContains(t, err, "secrets file not found")
}
