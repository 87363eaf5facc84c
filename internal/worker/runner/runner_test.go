package runner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"botarena/internal/coordinator/model"
	"botarena/internal/worker/backend"
	"botarena/internal/worker/sandbox"
	appErr "botarena/pkg/errors"
)

type fakeExecutor struct {
	outcome *sandbox.MatchOutcome
	err     error

	gotParams       map[string]interface{}
	gotParticipants []sandbox.Participant
}

func (f *fakeExecutor) RunMatch(_ context.Context, params map[string]interface{}, participants []sandbox.Participant, _ []sandbox.Slot) (*sandbox.MatchOutcome, error) {
	f.gotParams = params
	f.gotParticipants = participants
	return f.outcome, f.err
}

// fakeCoordinator serves bot archives and records every result post.
type fakeCoordinator struct {
	mu      sync.Mutex
	archive []byte
	posts   map[string]url.Values
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		archive: []byte("compiled bot bytes"),
		posts:   make(map[string]url.Values),
	}
}

func (s *fakeCoordinator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/botHash", func(w http.ResponseWriter, r *http.Request) {
		sum := md5.Sum(s.archive)
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": hex.EncodeToString(sum[:])})
	})
	mux.HandleFunc("/botFile", func(w http.ResponseWriter, r *http.Request) {
		sum := md5.Sum(s.archive)
		w.Header().Set("X-Hash", hex.EncodeToString(sum[:]))
		_, _ = w.Write(s.archive)
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.posts[r.URL.Path] = url.Values(r.MultipartForm.Value)
		s.mu.Unlock()
		fmt.Fprint(w, `{"code":0}`)
	}
	mux.HandleFunc("/compile", record)
	mux.HandleFunc("/game", record)
	mux.HandleFunc("/ondemand_result", record)
	mux.HandleFunc("/ondemand_compile", record)
	return mux
}

func (s *fakeCoordinator) post(path string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[path]
}

func newTestRunner(t *testing.T, executor MatchExecutor) (*Runner, *fakeCoordinator) {
	t.Helper()
	coordinator := newFakeCoordinator()
	server := httptest.NewServer(coordinator.handler())
	t.Cleanup(server.Close)
	client := backend.NewClient(server.URL, nil)
	slots := sandbox.NewSlotAllocator(100, 4)
	return NewRunner(client, nil, executor, slots, t.TempDir()), coordinator
}

func gameUsers() []model.Opponent {
	return []model.Opponent{
		{UserID: 1, BotID: 2, Username: "alice", VersionNumber: 3},
		{UserID: 4, BotID: 5, Username: "bob", VersionNumber: 1},
	}
}

func TestRunGamePostsResult(t *testing.T) {
	t.Parallel()
	executor := &fakeExecutor{outcome: &sandbox.MatchOutcome{
		Kind: sandbox.OutcomeOK,
		Output: &sandbox.EngineOutput{
			Replay:     "replay-9.hlt",
			Stats:      map[string]sandbox.PlayerStats{"0": {Rank: 1}, "1": {Rank: 2}},
			Terminated: map[string]bool{"1": true},
		},
		ReplayData: []byte("replay bytes"),
		Logs:       map[int]string{1: "panic: out of ships"},
	}}
	runner, coordinator := newTestRunner(t, executor)

	err := runner.RunGame(context.Background(), backend.GameTask{
		TaskID:                7,
		Users:                 gameUsers(),
		EnvironmentParameters: map[string]interface{}{"width": 40},
	})
	if err != nil {
		t.Fatalf("run game failed: %v", err)
	}
	if len(executor.gotParticipants) != 2 {
		t.Fatalf("participants not fetched: %+v", executor.gotParticipants)
	}
	if string(executor.gotParticipants[0].Archive) != "compiled bot bytes" {
		t.Fatalf("archive not handed to the executor")
	}

	form := coordinator.post("/game")
	if form == nil {
		t.Fatalf("game result never posted")
	}
	var users []model.ParticipantResult
	if err := json.Unmarshal([]byte(form.Get("users")), &users); err != nil {
		t.Fatalf("decode posted users failed: %v", err)
	}
	if users[0].Rank != 1 || users[1].Rank != 2 {
		t.Fatalf("ranks not posted: %+v", users)
	}
	if users[0].TimedOut || !users[1].TimedOut {
		t.Fatalf("timed_out flags wrong: %+v", users)
	}
	if users[0].LogName != "" || users[1].LogName == "" {
		t.Fatalf("log names wrong: %+v", users)
	}
}

func TestRunGameAbortsOnCompileFailure(t *testing.T) {
	t.Parallel()
	executor := &fakeExecutor{outcome: &sandbox.MatchOutcome{
		Kind:            sandbox.OutcomeCompileFailure,
		CompileFailures: map[int]string{0: "corrupt archive"},
	}}
	runner, coordinator := newTestRunner(t, executor)

	err := runner.RunGame(context.Background(), backend.GameTask{TaskID: 7, Users: gameUsers()})
	if !appErr.Is(err, appErr.MatchAborted) {
		t.Fatalf("expected MatchAborted, got %v", err)
	}
	if coordinator.post("/game") != nil {
		t.Fatalf("aborted match must not post a game result")
	}
}

func TestRunGameRejectsMissingStats(t *testing.T) {
	t.Parallel()
	executor := &fakeExecutor{outcome: &sandbox.MatchOutcome{
		Kind: sandbox.OutcomeOK,
		Output: &sandbox.EngineOutput{
			Stats: map[string]sandbox.PlayerStats{"0": {Rank: 1}},
		},
	}}
	runner, coordinator := newTestRunner(t, executor)

	err := runner.RunGame(context.Background(), backend.GameTask{TaskID: 7, Users: gameUsers()})
	if !appErr.Is(err, appErr.EngineOutputInvalid) {
		t.Fatalf("expected EngineOutputInvalid for missing participant stats, got %v", err)
	}
	if coordinator.post("/game") != nil {
		t.Fatalf("incomplete engine output must not be posted as a result")
	}
}

func TestRunOndemandReportsCompileError(t *testing.T) {
	t.Parallel()
	executor := &fakeExecutor{outcome: &sandbox.MatchOutcome{
		Kind:            sandbox.OutcomeCompileFailure,
		CompileFailures: map[int]string{0: "SyntaxError: invalid syntax"},
	}}
	runner, coordinator := newTestRunner(t, executor)

	users := gameUsers()
	users[0].RequiresCompilation = true
	err := runner.RunOndemand(context.Background(), backend.OndemandTask{UserID: 1, Users: users})
	if err != nil {
		t.Fatalf("run ondemand failed: %v", err)
	}

	form := coordinator.post("/ondemand_compile")
	if form == nil {
		t.Fatalf("compile error never reported")
	}
	if form.Get("user_id") != "1" {
		t.Fatalf("unexpected user_id: %s", form.Get("user_id"))
	}
	if form.Get("errors") != "SyntaxError: invalid syntax" {
		t.Fatalf("diagnostics not forwarded: %s", form.Get("errors"))
	}
	if coordinator.post("/ondemand_result") != nil {
		t.Fatalf("compile failure must not produce a session result")
	}
}

func TestRunOndemandStagesSnapshot(t *testing.T) {
	t.Parallel()
	executor := &fakeExecutor{outcome: &sandbox.MatchOutcome{
		Kind: sandbox.OutcomeOK,
		Output: &sandbox.EngineOutput{
			Stats: map[string]sandbox.PlayerStats{"0": {Rank: 1}, "1": {Rank: 2}},
		},
	}}
	runner, coordinator := newTestRunner(t, executor)

	err := runner.RunOndemand(context.Background(), backend.OndemandTask{
		UserID:   1,
		Users:    gameUsers(),
		Snapshot: json.RawMessage(`{"turn":50}`),
	})
	if err != nil {
		t.Fatalf("run ondemand failed: %v", err)
	}
	if path, _ := executor.gotParams["from-snapshot"].(string); path == "" {
		t.Fatalf("snapshot path not passed to the engine: %+v", executor.gotParams)
	}
	if coordinator.post("/ondemand_result") == nil {
		t.Fatalf("session result never posted")
	}
}
