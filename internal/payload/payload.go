// Package payload holds the treemap data file model: an ordered list of
// rows keyed by column name, plus the column order and a timestamp.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is where the site serves the data file from, relative to the
// page root.
const DefaultPath = "data/ytm_top20.json"

// Row maps a column name to its cell. SECID is always present in rows
// written by the builder.
type Row map[string]Value

// Get returns the cell for col, or a null value when absent.
func (r Row) Get(col string) Value {
	if v, ok := r[col]; ok {
		return v
	}
	return Null()
}

// SECID returns the instrument identifier.
func (r Row) SECID() string {
	return r.Get("SECID").String()
}

type Payload struct {
	Rows      []Row    `json:"rows"`
	Cols      []string `json:"cols"`
	UpdatedAt string   `json:"updated_at"`
}

// Decode parses a payload document.
func Decode(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Rows == nil {
		p.Rows = []Row{}
	}
	return &p, nil
}

// ReadFile loads a payload from disk.
func ReadFile(path string) (*Payload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	p, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

// WriteFile writes the payload atomically: a temp file in the same
// directory is renamed over path.
func WriteFile(path string, p *Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if p.Rows == nil {
		p.Rows = []Row{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ytm-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
