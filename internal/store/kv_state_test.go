package store

import (
	"context"
	"testing"
	"time"
)

func TestState(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	got, err := db.GetState(ctx, "google_drive_token")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetState() on missing key = %q, want empty", got)
	}

	if err := db.SetState(ctx, "google_drive_token", `{"access_token":"a"}`); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := db.SetState(ctx, "google_drive_token", `{"access_token":"b"}`); err != nil {
		t.Fatalf("SetState() overwrite error = %v", err)
	}

	got, err = db.GetState(ctx, "google_drive_token")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got != `{"access_token":"b"}` {
		t.Errorf("GetState() = %q, want overwritten value", got)
	}

	if err := db.DeleteState(ctx, "google_drive_token"); err != nil {
		t.Fatalf("DeleteState() error = %v", err)
	}
	if got, _ := db.GetState(ctx, "google_drive_token"); got != "" {
		t.Errorf("GetState() after delete = %q, want empty", got)
	}
}

func TestIngestEvents(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Second)

	events := []*IngestEvent{
		{DeliveryID: "d1", AthleteID: 42, ActivityID: 999, Status: IngestFetchFailed, Error: "API error 404", FinishedAt: base},
		{DeliveryID: "d2", AthleteID: 42, ActivityID: 999, Status: IngestStored, LocalPath: "data/streams/42_999.csv", FinishedAt: base.Add(time.Second)},
	}
	for _, e := range events {
		if err := db.RecordIngestEvent(ctx, e); err != nil {
			t.Fatalf("RecordIngestEvent() error = %v", err)
		}
	}

	got, err := db.ListIngestEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListIngestEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DeliveryID != "d2" || got[0].Status != IngestStored {
		t.Errorf("newest event = %+v, want d2/stored", got[0])
	}
	if got[1].Error != "API error 404" {
		t.Errorf("Error = %q", got[1].Error)
	}
	if got[0].ReceivedAt.IsZero() {
		t.Error("ReceivedAt should default to FinishedAt")
	}

	limited, err := db.ListIngestEvents(ctx, 1)
	if err != nil {
		t.Fatalf("ListIngestEvents(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len = %d, want 1", len(limited))
	}
}
