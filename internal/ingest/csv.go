package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// table reads a headed CSV stream row by row.
type table struct {
	reader   *csv.Reader
	header   []string
	colIndex map[string]int
	record   []string
	line     int
}

func newTable(r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		header[i] = col
		colIndex[col] = i
	}
	return &table{reader: reader, header: header, colIndex: colIndex}, nil
}

// next advances to the next row. Malformed rows are reported through skip.
func (t *table) next() (ok bool, skip bool, err error) {
	record, err := t.reader.Read()
	if errors.Is(err, io.EOF) {
		return false, false, nil
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return true, true, nil
		}
		return false, false, err
	}
	t.record = record
	t.line++
	return true, len(record) != len(t.header), nil
}

func (t *table) has(col string) bool {
	_, ok := t.colIndex[col]
	return ok
}

func (t *table) get(col string) string {
	i, ok := t.colIndex[col]
	if !ok || i >= len(t.record) {
		return ""
	}
	return strings.TrimSpace(t.record[i])
}

func (t *table) float(col string) *float64 {
	return parseFloat(t.get(col))
}

// parseFloat returns nil for empty or unparsable values. A trailing % is ignored.
func parseFloat(s string) *float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseDate accepts the date layouts found in loan datasets.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"Jan-2006", "2006-01-02", "2006-01-02 15:04:05", time.RFC3339, "01/02/2006", "Jan-06"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
