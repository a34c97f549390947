// Package inbox stores downloaded ticket attachments on disk as
// <root>/<ticketId>/<filename> next to a ticket.json manifest.
//
// A file only counts as present once the manifest records it. Bytes are first
// written to <filename>.part and renamed after the expected length has been
// verified, so an interrupted run leaves either a .part file or a file with no
// (or a mismatching) manifest entry, and both are treated as missing.
package inbox

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

const (
	ManifestName = "ticket.json"
	partSuffix   = ".part"
)

// ErrIncomplete is returned by Write when fewer bytes than announced arrived.
var ErrIncomplete = errors.New("inbox: incomplete write")

type Entry struct {
	Name     string `json:"name"`
	Source   string `json:"source,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
	Blake3   string `json:"blake3"`
}

type Manifest struct {
	Ticket      json.RawMessage `json:"ticket,omitempty"`
	Attachments []Entry         `json:"attachments"`
}

type Store struct {
	root string
}

func New(root string) Store {
	return Store{root: root}
}

// Dir returns the directory of a ticket without creating it.
func (s Store) Dir(ticketId string) string {
	return filepath.Join(s.root, Sanitize(ticketId, "ticket"))
}

// Open creates the ticket directory if needed and loads its manifest.
func (s Store) Open(ticketId string) (*TicketDir, error) {
	dir := s.Dir(ticketId)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	d := &TicketDir{Path: dir}
	contents, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(contents, &d.manifest)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", filepath.Join(dir, ManifestName), err)
	}
	return d, nil
}

// LoadManifest reads the manifest of a ticket that was previously stored.
func (s Store) LoadManifest(ticketId string) (Manifest, error) {
	var out Manifest
	contents, err := os.ReadFile(filepath.Join(s.Dir(ticketId), ManifestName))
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(contents, &out)
	return out, err
}

// TicketDir is the on-disk folder of a single ticket.
type TicketDir struct {
	Path     string
	manifest Manifest
}

func (d *TicketDir) FilePath(name string) string {
	return filepath.Join(d.Path, name)
}

func (d *TicketDir) entry(name string) (int, bool) {
	for i, e := range d.manifest.Attachments {
		if e.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Lookup returns the manifest entry of `name` if the file on disk is complete:
// recorded in the manifest, no pending .part and matching size and digest.
func (d *TicketDir) Lookup(name string) (Entry, bool) {
	i, ok := d.entry(name)
	if !ok {
		return Entry{}, false
	}
	e := d.manifest.Attachments[i]

	if _, err := os.Stat(d.FilePath(name) + partSuffix); err == nil {
		return Entry{}, false
	}
	f, err := os.Open(d.FilePath(name))
	if err != nil {
		return Entry{}, false
	}
	defer f.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, f)
	if err != nil || size != e.Size {
		return Entry{}, false
	}
	if hex.EncodeToString(hasher.Sum(nil)) != e.Blake3 {
		return Entry{}, false
	}
	return e, true
}

// Filled describes what a Fill wrote.
type Filled struct {
	// Expected is the amount of bytes that should have been written, -1 if
	// unknown.
	Expected int64
	MimeType string
}

// Fill writes the content of a file into w.
type Fill func(w io.Writer) (Filled, error)

// Write stores `name` by calling fill, only recording it in the manifest once
// every expected byte has landed on disk.
func (d *TicketDir) Write(name, source string, fill Fill) (Entry, error) {
	target := d.FilePath(name)
	part := target + partSuffix

	f, err := os.Create(part)
	if err != nil {
		return Entry{}, err
	}

	hasher := blake3.New()
	counter := &countingWriter{}
	filled, fillErr := fill(io.MultiWriter(f, hasher, counter))
	closeErr := f.Close()

	switch {
	case fillErr != nil:
		os.Remove(part)
		return Entry{}, fillErr
	case closeErr != nil:
		os.Remove(part)
		return Entry{}, closeErr
	case filled.Expected >= 0 && counter.n != filled.Expected:
		os.Remove(part)
		return Entry{}, fmt.Errorf("%w: %s got %d of %d bytes", ErrIncomplete, name, counter.n, filled.Expected)
	}

	err = os.Rename(part, target)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Name:     name,
		Source:   source,
		MimeType: filled.MimeType,
		Size:     counter.n,
		Blake3:   hex.EncodeToString(hasher.Sum(nil)),
	}
	if i, ok := d.entry(name); ok {
		d.manifest.Attachments[i] = e
	} else {
		d.manifest.Attachments = append(d.manifest.Attachments, e)
	}
	return e, d.Save()
}

// SetTicket replaces the ticket metadata in the manifest, it is persisted by Save.
func (d *TicketDir) SetTicket(ticket any) error {
	encoded, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	d.manifest.Ticket = encoded
	return nil
}

// Save writes the manifest atomically.
func (d *TicketDir) Save() error {
	if d.manifest.Attachments == nil {
		d.manifest.Attachments = []Entry{}
	}
	encoded, err := json.MarshalIndent(d.manifest, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(d.Path, ManifestName+".tmp")
	err = os.WriteFile(tmp, encoded, 0644)
	if err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(d.Path, ManifestName))
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
