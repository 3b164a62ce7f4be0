// Package control reads and writes control-file stanzas and the
// dependency expressions they carry.
package control

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/keenetic/opkg/internal/models"
)

// Stanza is one blank-line separated record of "Key: value" fields
type Stanza []models.Field

// Get returns the value for key, matched case-insensitively
func (s Stanza) Get(key string) string {
	for _, f := range s {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Without returns a copy of the stanza with the named fields dropped
func (s Stanza) Without(keys ...string) Stanza {
	out := make(Stanza, 0, len(s))
	for _, f := range s {
		drop := false
		for _, k := range keys {
			if strings.EqualFold(f.Key, k) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

// ParseStanza parses a single control file (e.g. CONTROL/control)
func ParseStanza(data []byte) (Stanza, error) {
	stanzas, err := ReadStanzas(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(stanzas) == 0 {
		return nil, fmt.Errorf("empty control data")
	}
	return stanzas[0], nil
}

// ReadStanzas reads every stanza from r. Continuation lines (leading space
// or tab) are appended to the previous field separated by a newline.
func ReadStanzas(r io.Reader) ([]Stanza, error) {
	var stanzas []Stanza
	var current Stanza

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lineNo++

		// Empty line = end of stanza
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				stanzas = append(stanzas, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		// Handle continuation lines (start with space)
		if line[0] == ' ' || line[0] == '\t' {
			if len(current) == 0 {
				return nil, fmt.Errorf("line %d: continuation line without a field", lineNo)
			}
			last := &current[len(current)-1]
			last.Value += "\n" + line[1:]
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed field %q", lineNo, line)
		}
		current = append(current, models.Field{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}

	// Don't forget last stanza
	if len(current) > 0 {
		stanzas = append(stanzas, current)
	}

	return stanzas, scanner.Err()
}

// ReadStanzasGzip reads stanzas from gzip-compressed data
func ReadStanzasGzip(r io.Reader) ([]Stanza, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return ReadStanzas(gz)
}

// Write writes one stanza followed by a blank line
func Write(w io.Writer, s Stanza) error {
	var buf bytes.Buffer
	for _, f := range s {
		value := strings.ReplaceAll(f.Value, "\n", "\n ")
		if value == "" || strings.HasPrefix(value, "\n") {
			fmt.Fprintf(&buf, "%s:%s\n", f.Key, value)
		} else {
			fmt.Fprintf(&buf, "%s: %s\n", f.Key, value)
		}
	}
	buf.WriteString("\n")

	_, err := w.Write(buf.Bytes())
	return err
}
