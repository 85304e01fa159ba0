package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"strava-ingest/internal/remote"
)

// ErrWriteFailed means the local copy could not be written. Unlike upload
// failures this is always returned to the caller.
var ErrWriteFailed = errors.New("writing stream file failed")

// Uploader is the remote side of the sink
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) *remote.Outcome
}

// Result describes where an activity's table ended up
type Result struct {
	LocalPath  string
	RemoteID   string
	RemoteLink string
	Mechanism  remote.Mechanism // MechanismNone when no upload succeeded
}

// Sink writes tables to the local directory, then best-effort to remote storage
type Sink struct {
	dir      string
	uploader Uploader
}

// NewSink creates a sink rooted at dir. uploader may be nil.
func NewSink(dir string, uploader Uploader) *Sink {
	return &Sink{dir: dir, uploader: uploader}
}

// FileName is the artifact name for an activity
func FileName(athleteID, activityID int64) string {
	return fmt.Sprintf("%d_%d.csv", athleteID, activityID)
}

// Persist overwrites the local file for the activity and then tries the
// remote chain. Only the local write can fail the call.
func (s *Sink) Persist(ctx context.Context, athleteID, activityID int64, table *Table) (*Result, error) {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("%w: encoding: %w", ErrWriteFailed, err)
	}

	name := FileName(athleteID, activityID)
	path := filepath.Join(s.dir, name)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailed, path, err)
	}

	result := &Result{LocalPath: path}
	if s.uploader == nil {
		return result, nil
	}

	out := s.uploader.Upload(ctx, name, buf.Bytes())
	if up := out.Uploaded(); up != nil {
		result.RemoteID = up.File.ID
		result.RemoteLink = up.File.Link
		result.Mechanism = up.Mechanism
	} else {
		log.Printf("[DRIVE] %s kept locally only: %v", name, out.Err())
	}
	return result, nil
}

// writeFileAtomic replaces path in full so readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
