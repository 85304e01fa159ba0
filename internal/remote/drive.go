package remote

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const streamMimeType = "text/csv"

// createFile uploads a new file into folderID (the credential's root when empty)
func createFile(ctx context.Context, srv *drive.Service, folderID, name string, content []byte) (*File, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: streamMimeType,
	}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	created, err := srv.Files.Create(meta).
		Media(bytes.NewReader(content), googleapi.ContentType(streamMimeType)).
		SupportsAllDrives(true).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrUploadFailed, name, err)
	}
	return &File{ID: created.Id, Link: created.WebViewLink}, nil
}
