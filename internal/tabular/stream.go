// Package tabular streams delimited text files (species exports, XYZ grids)
// row by row with header-based column lookup.
package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Options configures the delimited-text parser.
type Options struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	Charset    string // input encoding label, e.g. "windows-1252" (default UTF-8)
}

// Header maps lower-cased column names to their index.
type Header map[string]int

// Index returns the index of the first alias present in the header, or -1.
func (h Header) Index(aliases ...string) int {
	for _, a := range aliases {
		if i, ok := h[strings.ToLower(a)]; ok {
			return i
		}
	}
	return -1
}

// Row is one data record. Line is the 1-based record number after the header.
type Row struct {
	Line   int
	Fields []string
}

// Get returns field i, or "" when the row is too short or i is negative.
func (r Row) Get(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// Reader reads a header synchronously and then streams data rows.
type Reader struct {
	Header Header
	Names  []string

	csv  *csv.Reader
	trim bool
}

// NewReader consumes the header record of r. An input with no header is an
// error.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	r, err := decode(r, opts.Charset)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		cr.Comment = opts.Comment
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1 // allow ragged rows
	cr.ReuseRecord = false

	names, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("tabular: missing header")
	}
	if err != nil {
		return nil, eris.Wrap(err, "tabular: read header")
	}

	header := make(Header, len(names))
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(n, "\ufeff")))
		if _, dup := header[n]; !dup {
			header[n] = i
		}
	}
	return &Reader{Header: header, Names: names, csv: cr, trim: opts.TrimSpace}, nil
}

// decode wraps r in a decoder for charset. Empty and UTF-8 labels pass r
// through unchanged.
func decode(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// Stream sends data rows to the returned channel until EOF, a parse error, or
// cancellation. Errors are sent on the error channel. Both channels are
// closed when processing completes.
func (t *Reader) Stream(ctx context.Context) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		line := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}

			record, err := t.csv.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "tabular: read row %d", line+1)
				return
			}
			line++

			if t.trim {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- Row{Line: line, Fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
