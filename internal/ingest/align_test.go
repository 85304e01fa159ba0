package ingest

import (
	"errors"
	"strings"
	"testing"

	"strava-ingest/internal/strava"
)

func f(v float64) *float64 { return &v }

func TestAlign(t *testing.T) {
	bundle := strava.StreamBundle{
		strava.ChannelHeartrate: {f(120), nil, f(0)},
		strava.ChannelTime:      {f(0), f(1), f(2), f(3)},
		strava.ChannelPower:     {},
	}

	table, err := Align(bundle)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	wantColumns := []strava.Channel{strava.ChannelTime, strava.ChannelHeartrate}
	if len(table.Columns) != len(wantColumns) {
		t.Fatalf("Columns = %v, want %v", table.Columns, wantColumns)
	}
	for i := range wantColumns {
		if table.Columns[i] != wantColumns[i] {
			t.Errorf("Columns[%d] = %s, want %s", i, table.Columns[i], wantColumns[i])
		}
	}

	if len(table.Rows) != 4 {
		t.Fatalf("len(Rows) = %d, want 4 (longest channel)", len(table.Rows))
	}

	tests := []struct {
		row     int
		wantHR  *float64
		missing bool
	}{
		{0, f(120), false},
		{1, nil, true}, // null from the provider
		{2, f(0), false},
		{3, nil, true}, // past the end of the channel
	}
	for _, tt := range tests {
		got := table.Rows[tt.row].Values[1]
		if tt.missing {
			if got != nil {
				t.Errorf("row %d heartrate = %v, want missing", tt.row, *got)
			}
			continue
		}
		if got == nil || *got != *tt.wantHR {
			t.Errorf("row %d heartrate = %v, want %v", tt.row, got, *tt.wantHR)
		}
	}
	for i, row := range table.Rows {
		if row.Index != i {
			t.Errorf("Rows[%d].Index = %d", i, row.Index)
		}
	}
}

func TestAlignUnknownChannelsGoLast(t *testing.T) {
	table, err := Align(strava.StreamBundle{
		"zeta":                 {f(1)},
		"moving":               {f(1)},
		strava.ChannelDistance: {f(5)},
	})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	got := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		got[i] = string(c)
	}
	if strings.Join(got, ",") != "distance,moving,zeta" {
		t.Errorf("Columns = %v", got)
	}
}

func TestAlignEmptyBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle strava.StreamBundle
	}{
		{"nil", nil},
		{"no channels", strava.StreamBundle{}},
		{"only empty channels", strava.StreamBundle{strava.ChannelTime: {}, strava.ChannelHeartrate: nil}},
		{"only null samples", strava.StreamBundle{strava.ChannelHeartrate: {nil, nil, nil}}},
		{"null samples across channels", strava.StreamBundle{strava.ChannelTime: {nil}, "moving": {nil, nil}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Align(tt.bundle)
			if !errors.Is(err, ErrEmptyBundle) {
				t.Errorf("Align() error = %v, want ErrEmptyBundle", err)
			}
		})
	}
}

func TestAlignDropsNullChannels(t *testing.T) {
	table, err := Align(strava.StreamBundle{
		strava.ChannelTime:      {f(0), f(1)},
		strava.ChannelHeartrate: {nil, nil, nil, nil},
		"moving":                {nil},
	})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if len(table.Columns) != 1 || table.Columns[0] != strava.ChannelTime {
		t.Errorf("Columns = %v, want [time]", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Errorf("len(Rows) = %d, want 2", len(table.Rows))
	}
}

func TestWriteCSV(t *testing.T) {
	table, err := Align(strava.StreamBundle{
		strava.ChannelTime:      {f(0), f(1), f(2)},
		strava.ChannelHeartrate: {f(120), nil},
		strava.ChannelSpeed:     {f(2.5), f(0), f(3.25)},
	})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	var sb strings.Builder
	if err := table.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := "index,time,velocity_smooth,heartrate\n" +
		"0,0,2.5,120\n" +
		"1,1,0,\n" +
		"2,2,3.25,\n"
	if sb.String() != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", sb.String(), want)
	}
}
