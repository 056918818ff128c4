// Package csvio reads and writes linkz tables as delimiter-separated text.
//
// The first record is the header. Cells that parse as numbers are read as
// float64, cells equal to the nil value are read as nil, and everything else
// stays a string. Row labels are not written; reading numbers rows from zero.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/zoobzio/linkz"
)

// Options configures reading and writing.
type Options struct {
	Delimiter rune   // Defaults to ,
	NilValue  string // Text standing for a nil cell. Defaults to "".
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// Read parses a table from r.
func Read(r io.Reader, opts Options) (*linkz.Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = opts.delimiter()

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return linkz.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q in header", h)
		}
		seen[h] = true
	}

	t := linkz.New(header...)
	line := 2
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		values := make([]any, len(record))
		for i, cell := range record {
			values[i] = parseCell(cell, opts.NilValue)
		}
		if err := t.Append(values...); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		line++
	}
	return t, nil
}

func parseCell(cell, nilValue string) any {
	if cell == nilValue {
		return nil
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

// Write writes t to w with a header line.
func Write(w io.Writer, t *linkz.Table, opts Options) error {
	writer := csv.NewWriter(w)
	writer.Comma = opts.delimiter()

	columns := t.Columns()
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(columns))
	for i := 0; i < t.Len(); i++ {
		for j, c := range columns {
			record[j] = formatCell(t.Value(i, c), opts.NilValue)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(v any, nilValue string) string {
	switch c := v.(type) {
	case nil:
		return nilValue
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(c), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", c)
	}
}

// ReadFile reads a table from the named file.
func ReadFile(path string, opts Options) (*linkz.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// WriteFile writes a table to the named file, replacing it.
func WriteFile(path string, t *linkz.Table, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Write(f, t, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
