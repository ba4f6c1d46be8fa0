// Package csv reads feature matrices from and writes scoring results to CSV.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNoRows is returned by Read when no well-formed row was found.
	ErrNoRows = errors.New("no feature rows")
	// ErrRaggedRow is returned when a row's length differs from the first row.
	ErrRaggedRow = errors.New("ragged feature row")
)

// Record is one feature row and its identifier. ID is empty unless the
// reader was configured with an ID column.
type Record struct {
	ID     string
	Values []float64
}

// Reader reads feature vectors from CSV files.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	hasHeader bool
	idColumn  bool
	headers   []string
	ids       []string

	mu  sync.Mutex
	err error
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithIDColumn indicates the first column holds a sample identifier.
func WithIDColumn(has bool) Option {
	return func(r *Reader) {
		r.idColumn = has
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
	}
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// IDs returns the identifiers of the rows returned by Read, when the reader
// was configured with an ID column.
func (r *Reader) IDs() []string {
	return r.ids
}

// Read returns all rows as a matrix. Malformed rows are skipped; rows of a
// different length than the first are rejected.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		id, row, err := r.parseRecord(record)
		if err != nil {
			continue // Skip malformed rows
		}
		if len(data) > 0 && len(row) != len(data[0]) {
			return nil, raggedRow(len(data)+1, len(row), len(data[0]))
		}
		data = append(data, row)
		if r.idColumn {
			r.ids = append(r.ids, id)
		}
	}

	if len(data) == 0 {
		return nil, ErrNoRows
	}
	return data, nil
}

// Stream returns a channel of rows for incremental processing. Identifiers
// are dropped; use StreamRecords to keep them.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	records, err := r.StreamRecords(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []float64, 100)
	go func() {
		defer close(out)
		for rec := range records {
			select {
			case out <- rec.Values:
			case <-ctx.Done():
				for range records {
				}
				return
			}
		}
	}()
	return out, nil
}

// StreamRecords returns a channel of rows with their identifiers. Malformed
// rows are skipped as in Read. The channel is closed at end of input, when
// ctx is done, or at the first read error or ragged row; Err reports the
// error once the channel is drained.
func (r *Reader) StreamRecords(ctx context.Context) (<-chan Record, error) {
	out := make(chan Record, 100)

	go func() {
		defer close(out)
		var n, width int
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			record, err := r.reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.setErr(fmt.Errorf("row %d: %w", n+1, err))
				return
			}

			id, row, err := r.parseRecord(record)
			if err != nil {
				continue
			}
			n++
			if width == 0 {
				width = len(row)
			} else if len(row) != width {
				r.setErr(raggedRow(n, len(row), width))
				return
			}

			select {
			case out <- Record{ID: id, Values: row}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Err returns the error that ended a stream early, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Reader) parseRecord(record []string) (string, []float64, error) {
	var id string
	if r.idColumn {
		if len(record) == 0 {
			return "", nil, errors.New("empty row")
		}
		id, record = record[0], record[1:]
	}
	row, err := parseRow(record)
	return id, row, err
}

func raggedRow(n, got, want int) error {
	return fmt.Errorf("%w: row %d has %d values, expected %d", ErrRaggedRow, n, got, want)
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
