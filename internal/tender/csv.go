package tender

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Dataset is one parsed input file. Rows holds the raw cells of every
// accepted record, index-aligned with Records, so callers can echo the
// original columns unchanged.
type Dataset struct {
	Name    string
	Header  []string
	Rows    [][]string
	Records []Record
	Skipped int
}

// Len returns the number of accepted records.
func (d *Dataset) Len() int { return len(d.Records) }

// FloatColumn parses the named column of every accepted row. It is used to
// read derived columns such as risk_score back from a scores file.
func (d *Dataset) FloatColumn(name string) ([]float64, error) {
	pos := -1
	for i, h := range d.Header {
		if strings.TrimSpace(h) == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, name)
	}

	out := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		if pos >= len(row) {
			return nil, fmt.Errorf("%w: row %d has no %s", ErrMalformedRow, i+1, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[pos]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s %q is not numeric", ErrMalformedRow, i+1, name, row[pos])
		}
		out[i] = v
	}
	return out, nil
}

// ReadFile opens path and parses it with schema.
func ReadFile(path string, schema Schema) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f, filepath.Base(path), schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// Read parses CSV content. A missing required column fails the whole input;
// malformed rows are skipped and counted.
func Read(r io.Reader, name string, schema Schema) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", ErrMissingColumns)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	ix, err := NewIndex(schema, header)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Name: name, Header: header}
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			ds.Skipped++
			slog.Debug("Skipping unreadable row", "dataset", name, "line", line, "error", err)
			continue
		}

		rec, err := ix.Parse(row)
		if err != nil {
			ds.Skipped++
			slog.Debug("Skipping malformed row", "dataset", name, "line", line, "error", err)
			continue
		}

		ds.Rows = append(ds.Rows, row)
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

// WriteCSV writes header and rows to path atomically: the content goes to a
// temporary file in the same directory which is then renamed over path.
func WriteCSV(path string, header []string, rows [][]string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteJSON encodes v as indented JSON to path atomically.
func WriteJSON(path string, v interface{}) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// WriteBytes writes data to path atomically.
func WriteBytes(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
