package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// table is a decoded CSV file with its header resolved.
type table struct {
	path     string
	encoding string
	header   []string
	cols     map[string]int
	r        *csv.Reader
}

// row is one data line. err is set when the line could not be parsed.
type row struct {
	cells []string
	line  int
	err   error
}

// openTable reads and decodes path and consumes its header row.
func openTable(path, fallback string) (*table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	text, enc, err := decode(data, fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s: empty file, no header row", ErrFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read header: %v", ErrFormat, path, err)
	}

	t := &table{path: path, encoding: enc, r: r, cols: make(map[string]int)}
	blank := true
	for i, h := range header {
		h = cleanHeader(h)
		header[i] = h
		if h == "" {
			continue
		}
		blank = false
		k := strings.ToLower(h)
		if _, dup := t.cols[k]; !dup {
			t.cols[k] = i
		}
	}
	if blank {
		return nil, fmt.Errorf("%w: %s: header row is empty", ErrFormat, path)
	}
	t.header = header
	return t, nil
}

// decode returns data as UTF-8 with any BOM removed, and the name of the
// encoding it was read as. Exports from Excel and SQL Server Management
// Studio arrive as UTF-8 with BOM, UTF-16 or Windows-1252.
func decode(data []byte, fallback string) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return data[len(utf8BOM):], "utf-8-bom", nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), data)
		return out, "utf-16le", err
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(), data)
		return out, "utf-16be", err
	case utf8.Valid(data):
		return data, "utf-8", nil
	}

	if fallback == "" {
		fallback = "windows-1252"
	}
	enc, err := htmlindex.Get(fallback)
	if err != nil {
		return nil, "", fmt.Errorf("unsupported encoding %q: %w", fallback, err)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, "", fmt.Errorf("decode as %s: %w", fallback, err)
	}
	return out, fallback, nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on
// the first line. Regional Excel settings export with semicolons.
func sniffDelimiter(text []byte) rune {
	first := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	best, bestN := ',', bytes.Count(first, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func cleanHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	h = strings.ReplaceAll(h, "ÿþ", "")
	return strings.TrimSpace(h)
}

// col returns the index of the first header present among names
// (case-insensitive), or -1.
func (t *table) col(names ...string) int {
	for _, n := range names {
		if i, ok := t.cols[strings.ToLower(n)]; ok {
			return i
		}
	}
	return -1
}

// colsMatching returns, in header order, the columns whose lowercase name
// starts with prefix and ends with suffix.
func (t *table) colsMatching(prefix, suffix string) []int {
	var out []int
	for i, h := range t.header {
		l := strings.ToLower(h)
		if strings.HasPrefix(l, prefix) && strings.HasSuffix(l, suffix) {
			out = append(out, i)
		}
	}
	return out
}

// next returns the next data row, or io.EOF.
func (t *table) next() (row, error) {
	cells, err := t.r.Read()
	if err == io.EOF {
		return row{}, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return row{line: pe.StartLine, err: err}, nil
		}
		return row{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, t.path, err)
	}
	line, _ := t.r.FieldPos(0)
	return row{cells: cells, line: line}, nil
}

// cell returns the trimmed value at i, treating out-of-range indexes and
// the literal NULL of SQL exports as empty.
func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	v := strings.TrimSpace(cells[i])
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
