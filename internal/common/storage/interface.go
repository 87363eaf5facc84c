package storage

import (
	"context"
)

// ObjectStorage defines minimal blob operations required by the bot archive
// and match artifact flows. It is intentionally small so we can swap
// MinIO/AWS-S3 implementations without touching business logic.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)

	// PutObject stores an object. Pass sizeBytes = -1 when unknown.
	PutObject(ctx context.Context, bucket, objectKey string, reader ObjectReader, sizeBytes int64, contentType string) error

	// StatObject returns size and ETag for an object. For single-part
	// uploads the ETag is the hex MD5 of the content, which the bot
	// archive integrity checks rely on.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// RemoveObject deletes an object. Removing a missing key is not an error.
	RemoveObject(ctx context.Context, bucket, objectKey string) error
}

// ObjectReader is a streaming reader for object data.
type ObjectReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
