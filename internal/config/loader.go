// Package config reads pin schedule documents from disk and watches them
// for changes.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/afero"

	"github.com/sweeney/pump-scheduler/internal/schedule"
)

// DefaultPath is where the daemon looks for its schedule document.
const DefaultPath = "/etc/pump-scheduler/pinschedule.json"

// ErrNotFound is returned when the schedule document does not exist.
var ErrNotFound = errors.New("schedule document not found")

// Loader reads a schedule document through an afero filesystem.
type Loader struct {
	fs   afero.Fs
	path string
}

// NewLoader creates a Loader for path on fsys.
func NewLoader(fsys afero.Fs, path string) *Loader {
	return &Loader{fs: fsys, path: path}
}

// Path returns the document path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and decodes the document. It does not validate entries.
func (l *Loader) Load() (schedule.Document, error) {
	b, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return schedule.Document{}, fmt.Errorf("%w: %s", ErrNotFound, l.path)
		}
		return schedule.Document{}, fmt.Errorf("read %s: %w", l.path, err)
	}
	doc, err := Decode(l.path, b)
	if err != nil {
		return schedule.Document{}, fmt.Errorf("decode %s: %w", l.path, err)
	}
	return doc, nil
}

// Decode parses a JSON or YAML (by extension) schedule document.
// Numbers are kept as json.Number so that integers stay exact.
func Decode(path string, data []byte) (schedule.Document, error) {
	jb, err := yamlToJSON(path, data)
	if err != nil {
		return schedule.Document{}, err
	}
	if len(bytes.TrimSpace(jb)) == 0 {
		return schedule.Document{}, nil
	}

	var doc schedule.Document
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return schedule.Document{}, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return schedule.Document{}, errors.New("trailing data after document")
		}
		return schedule.Document{}, err
	}
	return doc, nil
}
