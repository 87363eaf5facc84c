package controller

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"botarena/internal/common/storage"
	"botarena/internal/coordinator/repository"
	appErr "botarena/pkg/errors"
)

type storedObject struct {
	data []byte
	etag string
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]storedObject)}
}

func (s *fakeStorage) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, appErr.New(appErr.BotNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *fakeStorage) PutObject(_ context.Context, bucket, key string, reader storage.ObjectReader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = storedObject{data: data, etag: hex.EncodeToString(sum[:])}
	return nil
}

func (s *fakeStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, appErr.New(appErr.BotNotFound)
	}
	return storage.ObjectStat{SizeBytes: int64(len(obj.data)), ETag: obj.etag}, nil
}

func (s *fakeStorage) RemoveObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

func newBotRouter(t *testing.T) (*gin.Engine, *repository.BlobRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	blobs := repository.NewBlobRepository(newFakeStorage(), "bots", "replays", "logs")
	h := NewBotController(blobs)
	router := gin.New()
	router.GET("/botFile", h.GetBotFile)
	router.GET("/botHash", h.GetBotHash)
	return router, blobs
}

func md5Of(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// The compile flag selects the archive: compile=1 is the uploaded source
// awaiting compilation, absent is the compiled bot.
func TestBotHashCompileFlagSelectsArchive(t *testing.T) {
	t.Parallel()
	router, blobs := newBotRouter(t)
	ctx := context.Background()
	if err := blobs.PutBot(ctx, 1, 2, false, strings.NewReader("source"), 6); err != nil {
		t.Fatalf("store source failed: %v", err)
	}
	if err := blobs.PutBot(ctx, 1, 2, true, strings.NewReader("compiled"), 8); err != nil {
		t.Fatalf("store compiled failed: %v", err)
	}

	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"source", "&compile=1", md5Of("source")},
		{"compiled default", "", md5Of("compiled")},
		{"compiled explicit", "&compile=0", md5Of("compiled")},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botHash?user_id=1&bot_id=2"+tc.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
			}
			var payload struct {
				Hash string `json:"hash"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if payload.Hash != tc.want {
				t.Fatalf("expected hash %s, got %s", tc.want, payload.Hash)
			}
		})
	}
}

func TestBotFileCompileFlagSelectsArchive(t *testing.T) {
	t.Parallel()
	router, blobs := newBotRouter(t)
	ctx := context.Background()
	if err := blobs.PutBot(ctx, 1, 2, false, strings.NewReader("source"), 6); err != nil {
		t.Fatalf("store source failed: %v", err)
	}
	if err := blobs.PutBot(ctx, 1, 2, true, strings.NewReader("compiled"), 8); err != nil {
		t.Fatalf("store compiled failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botFile?user_id=1&bot_id=2&compile=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Body.String() != "source" {
		t.Fatalf("compile=1 must serve the source archive, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("X-Hash"); got != md5Of("source") {
		t.Fatalf("X-Hash mismatch: %s", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botFile?user_id=1&bot_id=2", nil))
	if rec.Body.String() != "compiled" {
		t.Fatalf("default must serve the compiled archive, got %q", rec.Body.String())
	}
}
