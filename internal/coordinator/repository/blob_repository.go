package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"botarena/internal/common/storage"
	appErr "botarena/pkg/errors"
)

// BlobRepository stores bot archives, replays, and participant logs in
// object storage. Bot archive keys distinguish source uploads from worker
// compiled output; the object's ETag is the hex MD5 workers verify against.
type BlobRepository struct {
	store storage.ObjectStorage

	BotBucket    string
	ReplayBucket string
	LogBucket    string
}

// NewBlobRepository creates a blob repository over the given object store.
func NewBlobRepository(store storage.ObjectStorage, botBucket, replayBucket, logBucket string) *BlobRepository {
	return &BlobRepository{
		store:        store,
		BotBucket:    botBucket,
		ReplayBucket: replayBucket,
		LogBucket:    logBucket,
	}
}

// BotKey builds the object key for a bot archive.
func BotKey(userID, botID int64, compiled bool) string {
	name := "source.zip"
	if compiled {
		name = "compiled.zip"
	}
	return fmt.Sprintf("%d/%d/%s", userID, botID, name)
}

// GetBot opens the bot archive and returns its reader, hex MD5 hash, and size.
func (r *BlobRepository) GetBot(ctx context.Context, userID, botID int64, compiled bool) (io.ReadCloser, string, int64, error) {
	key := BotKey(userID, botID, compiled)
	stat, err := r.store.StatObject(ctx, r.BotBucket, key)
	if err != nil {
		return nil, "", 0, appErr.Wrapf(err, appErr.BotNotFound, "bot archive %s not found", key)
	}
	reader, err := r.store.GetObject(ctx, r.BotBucket, key)
	if err != nil {
		return nil, "", 0, appErr.Wrapf(err, appErr.StorageError, "open bot archive %s failed", key)
	}
	return reader, normalizeETag(stat.ETag), stat.SizeBytes, nil
}

// PutBot stores a bot archive.
func (r *BlobRepository) PutBot(ctx context.Context, userID, botID int64, compiled bool, data io.Reader, size int64) error {
	key := BotKey(userID, botID, compiled)
	if err := r.store.PutObject(ctx, r.BotBucket, key, readerAdapter{data}, size, "application/zip"); err != nil {
		return appErr.Wrapf(err, appErr.UploadFailed, "store bot archive %s failed", key)
	}
	return nil
}

// BotHash returns the hex MD5 of the stored archive.
func (r *BlobRepository) BotHash(ctx context.Context, userID, botID int64, compiled bool) (string, error) {
	key := BotKey(userID, botID, compiled)
	stat, err := r.store.StatObject(ctx, r.BotBucket, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.BotNotFound, "bot archive %s not found", key)
	}
	return normalizeETag(stat.ETag), nil
}

// PutReplay compresses the replay with zstd and stores it under its name.
// Replays arriving already zstd-framed are stored as-is.
func (r *BlobRepository) PutReplay(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return appErr.ValidationError("replay", "name required")
	}
	if !isZstd(data) {
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return appErr.Wrapf(err, appErr.StorageError, "create zstd encoder failed")
		}
		data = encoder.EncodeAll(data, make([]byte, 0, len(data)))
		_ = encoder.Close()
	}
	if err := r.store.PutObject(ctx, r.ReplayBucket, name, readerAdapter{bytes.NewReader(data)}, int64(len(data)), "application/zstd"); err != nil {
		return appErr.Wrapf(err, appErr.UploadFailed, "store replay %s failed", name)
	}
	return nil
}

// GetReplay opens a replay and transparently decompresses it.
func (r *BlobRepository) GetReplay(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := r.store.GetObject(ctx, r.ReplayBucket, name)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ObjectNotFound, "replay %s not found", name)
	}
	decoder, err := zstd.NewReader(reader)
	if err != nil {
		_ = reader.Close()
		return nil, appErr.Wrapf(err, appErr.StorageError, "open zstd reader failed")
	}
	return &replayReader{decoder: decoder, underlying: reader}, nil
}

// PutLog stores one participant's captured log text.
func (r *BlobRepository) PutLog(ctx context.Context, name string, content []byte) error {
	if name == "" {
		return appErr.ValidationError("log", "name required")
	}
	if err := r.store.PutObject(ctx, r.LogBucket, name, readerAdapter{bytes.NewReader(content)}, int64(len(content)), "text/plain"); err != nil {
		return appErr.Wrapf(err, appErr.UploadFailed, "store log %s failed", name)
	}
	return nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isZstd(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], zstdMagic)
}

// normalizeETag strips the quotes S3-compatible stores wrap ETags in.
func normalizeETag(etag string) string {
	return strings.Trim(etag, "\"")
}

type readerAdapter struct {
	io.Reader
}

func (readerAdapter) Close() error { return nil }

type replayReader struct {
	decoder    *zstd.Decoder
	underlying io.ReadCloser
}

func (r *replayReader) Read(p []byte) (int, error) {
	return r.decoder.Read(p)
}

func (r *replayReader) Close() error {
	r.decoder.Close()
	return r.underlying.Close()
}
