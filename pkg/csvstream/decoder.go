// Package csvstream turns a delimited byte stream with a header row into a
// lazy, forward-only sequence of field maps, one per data row. Rows are
// emitted as soon as they are fully read; the stream is never buffered in
// memory as a whole.
package csvstream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// RowError reports a single unreadable row. It fails only that row's
// emission; callers continue pulling subsequent rows.
type RowError struct {
	Row int // 1-based data row number, excluding the header.
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Decoder is a pull-based reader of header-keyed CSV rows.
type Decoder struct {
	reader  *csv.Reader
	header  []string
	row     int
	skipped int
}

// NewDecoder reads the header row and returns a decoder for the data rows.
// An unreadable or empty header fails the whole stream.
func NewDecoder(r io.Reader) (*Decoder, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	// Column counts are checked against the header per row, so a short row
	// fails only itself.
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("csv header has no columns")
	}

	return &Decoder{reader: cr, header: header}, nil
}

// Header returns the column names from the header row.
func (d *Decoder) Header() []string { return d.header }

// Next returns the next data row as a map from column name to raw value.
// It returns io.EOF at end of stream, and a *RowError for a malformed row;
// after a *RowError the decoder remains usable for the remaining rows. Any
// other error means the stream itself is unreadable.
func (d *Decoder) Next() (map[string]string, error) {
	record, err := d.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	d.row++
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		d.skipped++
		return nil, &RowError{Row: d.row, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv stream: %w", err)
	}
	if len(record) != len(d.header) {
		d.skipped++
		return nil, &RowError{Row: d.row, Err: fmt.Errorf("has %d fields, header has %d", len(record), len(d.header))}
	}

	fields := make(map[string]string, len(d.header))
	for i, name := range d.header {
		fields[name] = record[i]
	}
	return fields, nil
}

// Rows returns the number of data rows read so far, malformed ones included.
func (d *Decoder) Rows() int { return d.row }

// Skipped returns the aggregate count of rows that failed to decode.
func (d *Decoder) Skipped() int { return d.skipped }
