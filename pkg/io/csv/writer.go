package csv

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	fgio "github.com/hed1ad/fishguard/pkg/io"
)

var resultHeader = []string{"id", "score", "threshold", "is_anomaly", "predicted_disease", "uncertainty", "labels"}

// Writer writes scoring results as CSV rows.
type Writer struct {
	w           *csv.Writer
	closer      io.Closer
	wroteHeader bool
}

// NewWriter creates a result writer on w. If w is an io.Closer it is closed
// by Close.
func NewWriter(w io.Writer) *Writer {
	out := &Writer{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// Write outputs a single result.
func (w *Writer) Write(result fgio.Result) error {
	if !w.wroteHeader {
		if err := w.w.Write(resultHeader); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	return w.w.Write([]string{
		result.ID,
		formatFloat(result.Score),
		formatFloat(result.Threshold),
		strconv.FormatBool(result.IsAnomaly),
		strconv.FormatBool(result.PredictedDisease),
		formatFloat(result.Uncertainty),
		strings.Join(result.Labels, ";"),
	})
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []fgio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes buffered rows and closes the underlying writer.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// WriteMatrix writes feature vectors, prefixed by their IDs when ids is
// non-nil, with a header naming each column.
func WriteMatrix(w io.Writer, ids []string, data [][]float64) error {
	cw := csv.NewWriter(w)
	if len(data) > 0 {
		header := make([]string, 0, len(data[0])+1)
		if ids != nil {
			header = append(header, "id")
		}
		for i := range data[0] {
			header = append(header, "f"+strconv.Itoa(i))
		}
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	for i, row := range data {
		record := make([]string, 0, len(row)+1)
		if ids != nil {
			record = append(record, ids[i])
		}
		for _, v := range row {
			record = append(record, formatFloat(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	_ fgio.Reader = (*Reader)(nil)
	_ fgio.Writer = (*Writer)(nil)
)
