package storage

import (
	"context"
	"fmt"
	"os"
)

// HealthCheck verifies S3 connectivity by checking that the bucket exists.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3 bucket %q does not exist", s.bucket)
	}
	return nil
}

// HealthCheck verifies the storage directory still exists and is a directory.
func (s *LocalStore) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage dir check: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %q is not a directory", s.root)
	}
	return nil
}
