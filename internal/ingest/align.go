// Package ingest turns a new-activity notification into a stored stream file.
package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strconv"

	"strava-ingest/internal/strava"
)

// ErrEmptyBundle is returned when no channel carries a single sample
var ErrEmptyBundle = errors.New("stream bundle is empty")

// Row is one sample index across all columns. A nil value is a missing
// sample, never a zero reading.
type Row struct {
	Index  int
	Values []*float64
}

// Table is a stream bundle aligned by sample index
type Table struct {
	Columns []strava.Channel
	Rows    []Row
}

// Align lays the bundle out as rows. The row count is the length of the
// longest kept channel; shorter channels leave nil cells. Channels with
// only null samples are dropped.
func Align(bundle strava.StreamBundle) (*Table, error) {
	if !bundle.HasData() {
		return nil, ErrEmptyBundle
	}

	columns := columnOrder(bundle)
	length := 0
	for _, ch := range columns {
		length = max(length, len(bundle[ch]))
	}
	rows := make([]Row, length)

	for i := 0; i < length; i++ {
		values := make([]*float64, len(columns))
		for j, ch := range columns {
			samples := bundle[ch]
			if i < len(samples) {
				values[j] = samples[i]
			}
		}
		rows[i] = Row{Index: i, Values: values}
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

// columnOrder returns the carried known channels in table order, followed
// by any other carried channel by name
func columnOrder(bundle strava.StreamBundle) []strava.Channel {
	known := make(map[strava.Channel]bool, len(strava.DefaultChannels))
	var columns []strava.Channel
	for _, ch := range strava.DefaultChannels {
		known[ch] = true
		if bundle.Carries(ch) {
			columns = append(columns, ch)
		}
	}

	var extra []strava.Channel
	for ch := range bundle {
		if !known[ch] && bundle.Carries(ch) {
			extra = append(extra, ch)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	return append(columns, extra...)
}

// WriteCSV encodes the table with an index column first. Missing samples
// are empty cells.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, "index")
	for _, ch := range t.Columns {
		header = append(header, string(ch))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(t.Columns)+1)
	for _, row := range t.Rows {
		record[0] = strconv.Itoa(row.Index)
		for j, v := range row.Values {
			if v == nil {
				record[j+1] = ""
				continue
			}
			record[j+1] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
