// Package storage provides the artifact store pipeline runs write to and
// the query engine reads from. Two backends implement the same interface:
// S3-compatible object storage (MinIO) and a local filesystem directory.
package storage

import "context"

// ObjectStore persists run artifacts (parquet, csv, json files).
type ObjectStore interface {
	// Put writes an artifact under the given key ("table_name/filename",
	// forward slashes) and returns the URI recorded on the run: an
	// "s3://bucket/key" URI for the S3 backend, an absolute filesystem
	// path for the local backend.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get reads back an artifact by the URI Put returned. A missing
	// artifact wraps domain.ErrNotFound.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Mode reports the active backend, "s3" or "local".
	Mode() string

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
