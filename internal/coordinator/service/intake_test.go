package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"botarena/internal/common/storage"
	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/repository"
	appErr "botarena/pkg/errors"
)

type enqueuedCompile struct {
	userID int64
	botID  int64
}

type fakeMatchQueue struct {
	mu       sync.Mutex
	compiles []enqueuedCompile
	games    [][]model.Opponent
}

func (q *fakeMatchQueue) EnqueueCompile(_ context.Context, userID, botID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.compiles = append(q.compiles, enqueuedCompile{userID: userID, botID: botID})
	return nil
}

func (q *fakeMatchQueue) EnqueueGame(_ context.Context, participants []model.Opponent, _ map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.games = append(q.games, participants)
	return nil
}

func (q *fakeMatchQueue) ClaimNext(context.Context, []model.MatchTaskKind, time.Time, int) (*model.MatchTask, error) {
	return nil, nil
}

func (q *fakeMatchQueue) CompleteFor(context.Context, model.MatchTaskKind, int64, int64) error {
	return nil
}

type memObject struct {
	data []byte
	stat storage.ObjectStat
}

// memStorage is an in-memory ObjectStorage keyed by bucket/objectKey.
type memStorage struct {
	mu      sync.Mutex
	objects map[string]memObject
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string]memObject)}
}

func (s *memStorage) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, appErr.New(appErr.BotNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *memStorage) PutObject(_ context.Context, bucket, key string, reader storage.ObjectReader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = memObject{
		data: data,
		stat: storage.ObjectStat{SizeBytes: int64(len(data)), ContentType: contentType},
	}
	return nil
}

func (s *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, appErr.New(appErr.BotNotFound)
	}
	return obj.stat, nil
}

func (s *memStorage) RemoveObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

func newTestIntake() (*IntakeService, *fakeMatchQueue, *memStorage) {
	store := newMemStorage()
	blobs := repository.NewBlobRepository(store, "bots", "replays", "logs")
	queue := &fakeMatchQueue{}
	return NewIntakeService(blobs, queue), queue, store
}

func TestIntakeSubmitBotStoresSourceAndQueuesCompile(t *testing.T) {
	t.Parallel()
	svc, queue, store := newTestIntake()
	archive := "PK\x03\x04 not a real zip"

	err := svc.SubmitBot(context.Background(), 7, 3, strings.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("submit bot failed: %v", err)
	}

	key := "bots/" + repository.BotKey(7, 3, false)
	obj, ok := store.objects[key]
	if !ok {
		t.Fatalf("source archive not stored under %s", key)
	}
	if string(obj.data) != archive {
		t.Fatalf("stored archive corrupted")
	}
	if len(queue.compiles) != 1 || queue.compiles[0] != (enqueuedCompile{userID: 7, botID: 3}) {
		t.Fatalf("compile task not enqueued: %+v", queue.compiles)
	}
}

func TestIntakeSubmitBotValidatesInput(t *testing.T) {
	t.Parallel()
	svc, queue, _ := newTestIntake()
	ctx := context.Background()

	if err := svc.SubmitBot(ctx, 0, 1, strings.NewReader("x"), 1); err == nil {
		t.Fatalf("expected validation error for user id 0")
	}
	if err := svc.SubmitBot(ctx, 1, -1, strings.NewReader("x"), 1); err == nil {
		t.Fatalf("expected validation error for negative bot id")
	}
	if err := svc.SubmitBot(ctx, 1, 1, strings.NewReader(""), 0); err == nil {
		t.Fatalf("expected validation error for empty archive")
	}
	if len(queue.compiles) != 0 {
		t.Fatalf("rejected uploads must not enqueue work: %+v", queue.compiles)
	}
}

func TestIntakeSubmitMatch(t *testing.T) {
	t.Parallel()
	svc, queue, _ := newTestIntake()
	ctx := context.Background()

	participants := []model.Opponent{
		{UserID: 1, BotID: 2, Username: "alice", VersionNumber: 1},
		{UserID: 5, BotID: 1, Username: "bob", VersionNumber: 9},
	}
	if err := svc.SubmitMatch(ctx, participants, map[string]interface{}{"width": 40}); err != nil {
		t.Fatalf("submit match failed: %v", err)
	}
	if len(queue.games) != 1 || len(queue.games[0]) != 2 {
		t.Fatalf("game task not enqueued: %+v", queue.games)
	}

	if err := svc.SubmitMatch(ctx, participants[:1], nil); err == nil {
		t.Fatalf("expected validation error for single participant")
	}
}
