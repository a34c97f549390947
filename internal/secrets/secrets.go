// Package secrets resolves the control panel password from the places a user
// may keep it. It knows nothing about sessions, the resolved string is all the
// scraping core ever sees.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// EnvVar is checked before anything else.
const EnvVar = "OSTICKET_PASSWORD"

var ErrNoCredential = errors.New(
	"no password configured. Set " + EnvVar + " environment variable, " +
		"add 'password' to config, or provide 'secrets_file'",
)

// Sources lists every place a credential may come from.
type Sources struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	Inline    string
	// File is read as plaintext unless it ends with .gpg or .age.
	File string
	// AgeIdentity is the identity file used for .age secrets files.
	AgeIdentity string
	// Gpg decrypts .gpg files, defaults to the gpg binary.
	Gpg Decrypter
}

// Decrypter turns an encrypted file into its plaintext.
type Decrypter interface {
	Decrypt(ctx context.Context, path string) ([]byte, error)
}

// GpgBinary decrypts files by shelling out to gpg, which reuses whatever agent
// and keyring the user already has set up.
type GpgBinary struct {
	Path string
}

func (g GpgBinary) Decrypt(ctx context.Context, path string) ([]byte, error) {
	binary := g.Path
	if binary == "" {
		binary = "gpg"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "--decrypt", "--quiet", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Resolve returns the first credential found in this order: environment
// variable, inline config value, secrets file.
func Resolve(ctx context.Context, src Sources) (string, error) {
	lookupEnv := src.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if value, ok := lookupEnv(EnvVar); ok && value != "" {
		return value, nil
	}
	if src.Inline != "" {
		return src.Inline, nil
	}
	if src.File == "" {
		return "", ErrNoCredential
	}

	if _, err := os.Stat(src.File); err != nil {
		return "", fmt.Errorf("secrets file not found: %s", src.File)
	}

	var contents []byte
	var err error
	switch filepath.Ext(src.File) {
	case ".gpg":
		gpg := src.Gpg
		if gpg == nil {
			gpg = GpgBinary{}
		}
		contents, err = gpg.Decrypt(ctx, src.File)
	case ".age":
		contents, err = decryptAge(src.File, src.AgeIdentity)
	default:
		contents, err = os.ReadFile(src.File)
	}
	if err != nil {
		return "", err
	}

	password := strings.TrimSpace(string(contents))
	if password == "" {
		return "", ErrNoCredential
	}
	return password, nil
}

func decryptAge(path, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("secrets file %s is age encrypted but no age_identity is configured", path)
	}
	identityFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("open age identity: %w", err)
	}
	defer identityFile.Close()
	identities, err := age.ParseIdentities(identityFile)
	if err != nil {
		return nil, fmt.Errorf("parse age identity %s: %w", identityPath, err)
	}

	encrypted, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer encrypted.Close()
	reader, err := age.Decrypt(encrypted, identities...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", path, err)
	}
	return io.ReadAll(reader)
}
