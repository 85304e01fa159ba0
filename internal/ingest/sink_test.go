package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"strava-ingest/internal/remote"
	"strava-ingest/internal/store"
	"strava-ingest/internal/strava"
)

type failingProvider struct {
	calls int
}

func (p *failingProvider) Mechanism() remote.Mechanism { return remote.MechanismDelegated }

func (p *failingProvider) Upload(ctx context.Context, name string, content []byte) (*remote.File, error) {
	p.calls++
	return nil, errors.New("googleapi: Error 401: Invalid Credentials")
}

type recordingProvider struct {
	mechanism remote.Mechanism
	names     []string
	contents  [][]byte
}

func (p *recordingProvider) Mechanism() remote.Mechanism { return p.mechanism }

func (p *recordingProvider) Upload(ctx context.Context, name string, content []byte) (*remote.File, error) {
	p.names = append(p.names, name)
	p.contents = append(p.contents, content)
	return &remote.File{ID: "drive-" + name, Link: "https://drive.example.com/" + name}, nil
}

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := Align(strava.StreamBundle{
		strava.ChannelTime:      {f(0), f(1), f(2)},
		strava.ChannelHeartrate: {f(130), nil, f(131)},
	})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	return table
}

func TestSinkPersistIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, nil)
	ctx := context.Background()

	first, err := sink.Persist(ctx, 42, 999, testTable(t))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	want := filepath.Join(dir, "42_999.csv")
	if first.LocalPath != want {
		t.Errorf("LocalPath = %q, want %q", first.LocalPath, want)
	}
	firstContent, err := os.ReadFile(first.LocalPath)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}

	second, err := sink.Persist(ctx, 42, 999, testTable(t))
	if err != nil {
		t.Fatalf("second Persist() error = %v", err)
	}
	secondContent, _ := os.ReadFile(second.LocalPath)
	if !bytes.Equal(firstContent, secondContent) {
		t.Errorf("content changed between identical deliveries:\n%s\n---\n%s", firstContent, secondContent)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left behind)", len(entries))
	}
}

func TestSinkOverwritesWithNewContent(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, nil)
	ctx := context.Background()

	if _, err := sink.Persist(ctx, 1, 2, testTable(t)); err != nil {
		t.Fatal(err)
	}
	shorter, _ := Align(strava.StreamBundle{strava.ChannelTime: {f(7)}})
	res, err := sink.Persist(ctx, 1, 2, shorter)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(res.LocalPath)
	if string(got) != "index,time\n0,7\n" {
		t.Errorf("file = %q, want full replacement", got)
	}
}

func TestSinkRemoteFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("failing delegated and absent service account", func(t *testing.T) {
		delegated := &failingProvider{}
		service := remote.NewServiceAccount(nil, "", "", time.Second)
		sink := NewSink(t.TempDir(), remote.NewChain(delegated, service))

		res, err := sink.Persist(ctx, 42, 999, testTable(t))
		if err != nil {
			t.Fatalf("Persist() error = %v, upload failure must not fail the call", err)
		}
		if res.LocalPath == "" {
			t.Error("LocalPath is empty")
		}
		if res.RemoteID != "" || res.Mechanism != remote.MechanismNone {
			t.Errorf("remote = %q via %q, want none", res.RemoteID, res.Mechanism)
		}
		if delegated.calls != 1 {
			t.Errorf("delegated tried %d times, want 1", delegated.calls)
		}
		if _, err := os.Stat(res.LocalPath); err != nil {
			t.Errorf("local file missing: %v", err)
		}
	})

	t.Run("service account takes over", func(t *testing.T) {
		service := &recordingProvider{mechanism: remote.MechanismServiceAccount}
		sink := NewSink(t.TempDir(), remote.NewChain(&failingProvider{}, service))

		res, err := sink.Persist(ctx, 42, 999, testTable(t))
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if res.Mechanism != remote.MechanismServiceAccount || res.RemoteID != "drive-42_999.csv" {
			t.Errorf("result = %+v", res)
		}
		local, _ := os.ReadFile(res.LocalPath)
		if len(service.contents) != 1 || !bytes.Equal(service.contents[0], local) {
			t.Error("uploaded content differs from the local file")
		}
	})

	t.Run("delegated token slot empty", func(t *testing.T) {
		cfg := remote.NewDelegatedConfig("id", "secret", "https://ingest.example.com/drive/callback")
		delegated := remote.NewDelegated(cfg, store.NewTestDB(t), "", time.Second)
		sink := NewSink(t.TempDir(), remote.NewChain(delegated, remote.NewServiceAccount(nil, "", "", time.Second)))

		res, err := sink.Persist(ctx, 42, 999, testTable(t))
		if err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		if res.Mechanism != remote.MechanismNone {
			t.Errorf("Mechanism = %q, want none", res.Mechanism)
		}
	})
}

func TestSinkWriteFailure(t *testing.T) {
	// A regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "streams")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploader := &recordingProvider{mechanism: remote.MechanismDelegated}
	sink := NewSink(blocker, remote.NewChain(uploader))
	_, err := sink.Persist(context.Background(), 42, 999, testTable(t))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Persist() error = %v, want ErrWriteFailed", err)
	}
	if len(uploader.names) != 0 {
		t.Error("upload attempted after the local write failed")
	}
}
