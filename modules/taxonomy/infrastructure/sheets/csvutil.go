package sheets

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DelimiterFor picks the field separator from a file extension.
func DelimiterFor(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab", ".txt":
		return '\t'
	default:
		return ','
	}
}

func newCSVReader(r io.Reader, comma rune) *csv.Reader {
	br := stripUTF8BOM(bufio.NewReader(r))
	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = false
	if comma == '\t' {
		cr.LazyQuotes = true
	}
	return cr
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

// readHeader skips leading blank lines, as exported sheets often carry them.
func readHeader(r *csv.Reader) ([]string, error) {
	for {
		h, err := r.Read()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("missing header")
			}
			return nil, err
		}
		if isBlank(h) {
			continue
		}
		return normalizeHeader(h)
	}
}

func normalizeHeader(h []string) ([]string, error) {
	out := make([]string, len(h))
	for i := range h {
		out[i] = strings.ToLower(strings.TrimSpace(h[i]))
		if !utf8.ValidString(out[i]) {
			return nil, fmt.Errorf("invalid header encoding")
		}
	}
	return out, nil
}

func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := m[name]; !dup {
			m[name] = i
		}
	}
	return m
}

func requireHeader(header []string, required []string) error {
	idx := headerIndex(header)
	for _, req := range required {
		if _, ok := idx[req]; !ok {
			return fmt.Errorf("missing required header column: %s", req)
		}
	}
	return nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func field(rec []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
