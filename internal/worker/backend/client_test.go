package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, []string{"gpu"})
	client.sleep = func(context.Context, time.Duration) {}
	return client
}

func TestGetTaskParsesCompileTask(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query()["capability"]; len(got) != 1 || got[0] != "gpu" {
			t.Errorf("capabilities not forwarded: %v", got)
		}
		fmt.Fprint(w, `{"type":"compile","user":12,"bot":3}`)
	}))

	task, err := client.GetTask(context.Background())
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	compile, ok := task.(CompileTask)
	if !ok {
		t.Fatalf("expected CompileTask, got %T", task)
	}
	if compile.UserID != 12 || compile.BotID != 3 {
		t.Fatalf("unexpected task fields: %+v", compile)
	}
}

func TestGetTaskParsesGameTask(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"game","task_id":44,"users":[{"user_id":1,"bot_id":2,"username":"a","version_number":5}],"environment_parameters":{"width":40}}`)
	}))

	task, err := client.GetTask(context.Background())
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	game, ok := task.(GameTask)
	if !ok {
		t.Fatalf("expected GameTask, got %T", task)
	}
	if game.TaskID != 44 || len(game.Users) != 1 || game.Users[0].Username != "a" {
		t.Fatalf("unexpected task fields: %+v", game)
	}
}

func TestGetTaskNoTaskReturnsNil(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"notask"}`)
	}))

	task, err := client.GetTask(context.Background())
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task, got %+v", task)
	}
}

// botServer serves a bot archive plus its hash, optionally corrupting the
// first downloads.
type botServer struct {
	mu           sync.Mutex
	archive      []byte
	corruptNext  int
	fetchCount   int
	uploadCount  int
	failUploads  int
	dropUploaded bool
}

func (s *botServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/botHash", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		sum := md5.Sum(s.archive)
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": hex.EncodeToString(sum[:])})
	})
	mux.HandleFunc("/botFile", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Method == http.MethodPost {
			s.uploadCount++
			if s.uploadCount <= s.failUploads {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			file, _, err := r.FormFile("bot.zip")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer func() { _ = file.Close() }()
			data, err := io.ReadAll(file)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if !s.dropUploaded {
				s.archive = data
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		s.fetchCount++
		body := s.archive
		if s.corruptNext > 0 {
			s.corruptNext--
			body = append([]byte("garbage"), body...)
		}
		sum := md5.Sum(s.archive)
		w.Header().Set("X-Hash", hex.EncodeToString(sum[:]))
		_, _ = w.Write(body)
	})
	return mux
}

func TestFetchBotRetriesAfterCorruption(t *testing.T) {
	t.Parallel()
	server := &botServer{archive: []byte("bot archive bytes"), corruptNext: 2}
	client := newTestClient(t, server.handler())

	data, err := client.FetchBot(context.Background(), 1, 2, true)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(data) != "bot archive bytes" {
		t.Fatalf("unexpected archive content: %q", data)
	}
	if server.fetchCount != 3 {
		t.Fatalf("expected 3 download attempts, got %d", server.fetchCount)
	}
}

func TestFetchBotGivesUpAfterBoundedAttempts(t *testing.T) {
	t.Parallel()
	server := &botServer{archive: []byte("bot"), corruptNext: fetchAttempts + 10}
	client := newTestClient(t, server.handler())

	if _, err := client.FetchBot(context.Background(), 1, 2, true); err == nil {
		t.Fatalf("expected fetch to fail after exhausting attempts")
	}
	if server.fetchCount != fetchAttempts {
		t.Fatalf("expected %d attempts, got %d", fetchAttempts, server.fetchCount)
	}
}

func TestFetchBotCompileFlagSelectsSource(t *testing.T) {
	t.Parallel()
	var flags []string
	server := &botServer{archive: []byte("bot")}
	base := server.handler()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flags = append(flags, r.URL.Query().Get("compile"))
		base.ServeHTTP(w, r)
	}))

	// compile=1 selects the uploaded source awaiting compilation.
	if _, err := client.FetchBot(context.Background(), 1, 2, false); err != nil {
		t.Fatalf("fetch source failed: %v", err)
	}
	for _, flag := range flags {
		if flag != "1" {
			t.Fatalf("source fetch must send compile=1, got %q", flag)
		}
	}

	flags = nil
	if _, err := client.FetchBot(context.Background(), 1, 2, true); err != nil {
		t.Fatalf("fetch compiled failed: %v", err)
	}
	for _, flag := range flags {
		if flag != "0" {
			t.Fatalf("compiled fetch must send compile=0, got %q", flag)
		}
	}
}

func TestUploadBotVerifiesStoredHash(t *testing.T) {
	t.Parallel()
	server := &botServer{}
	client := newTestClient(t, server.handler())

	if err := client.UploadBot(context.Background(), 1, 2, []byte("compiled")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if string(server.archive) != "compiled" {
		t.Fatalf("archive not stored: %q", server.archive)
	}
	if server.uploadCount != 1 {
		t.Fatalf("expected one upload, got %d", server.uploadCount)
	}
}

func TestUploadBotRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	server := &botServer{failUploads: 2}
	client := newTestClient(t, server.handler())

	if err := client.UploadBot(context.Background(), 1, 2, []byte("compiled")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if server.uploadCount != 3 {
		t.Fatalf("expected 3 upload attempts, got %d", server.uploadCount)
	}
}

func TestUploadBotFailsWhenStoreNeverMatches(t *testing.T) {
	t.Parallel()
	server := &botServer{archive: []byte("stale"), dropUploaded: true}
	client := newTestClient(t, server.handler())

	var slept int
	client.sleep = func(context.Context, time.Duration) { slept++ }

	if err := client.UploadBot(context.Background(), 1, 2, []byte("compiled")); err == nil {
		t.Fatalf("expected upload verification failure")
	}
	if server.uploadCount != uploadAttempts {
		t.Fatalf("expected %d attempts, got %d", uploadAttempts, server.uploadCount)
	}
	if slept != uploadAttempts {
		t.Fatalf("expected a backoff sleep per attempt, got %d", slept)
	}
}

func TestPostCompileResultSendsFormFields(t *testing.T) {
	t.Parallel()
	var got map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form failed: %v", err)
			return
		}
		got = map[string]string{
			"user_id":     r.FormValue("user_id"),
			"bot_id":      r.FormValue("bot_id"),
			"did_compile": r.FormValue("did_compile"),
			"language":    r.FormValue("language"),
			"errors":      r.FormValue("errors"),
		}
	}))

	err := client.PostCompileResult(context.Background(), 7, 9, false, "Python", "syntax error")
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	want := map[string]string{
		"user_id": "7", "bot_id": "9", "did_compile": "0",
		"language": "Python", "errors": "syntax error",
	}
	for key, val := range want {
		if got[key] != val {
			t.Fatalf("field %s: expected %q, got %q", key, val, got[key])
		}
	}
}
