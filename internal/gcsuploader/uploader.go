package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// Archive writes objects to one GCS bucket.
// It relies on Application Default Credentials.
type Archive struct {
	client *storage.Client
	bucket string
}

// NewArchive creates a storage client bound to bucket.
func NewArchive(ctx context.Context, bucket string) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewArchive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchive: create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

func (a *Archive) Close() error {
	return a.client.Close()
}

// Upload streams r into objectName and returns its gs:// URI.
func (a *Archive) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize %s: %w", objectName, err)
	}
	return BuildURI(a.bucket, objectName), nil
}

// Download reads the object behind a gs:// URI.
func (a *Archive) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Download: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Download: reading bytes: %w", err)
	}
	return data, nil
}

func BuildURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ExtractFilename returns the last path element of a GCS URI.
// e.g., "gs://bucket/statements/acc/2026-01.csv" → "2026-01.csv"
func ExtractFilename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
