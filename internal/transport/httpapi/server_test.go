package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tasuku43/gitpush/internal/app/push"
	"github.com/tasuku43/gitpush/internal/apperr"
	"github.com/tasuku43/gitpush/internal/domain/task"
)

type fakeService struct {
	mu        sync.Mutex
	submitted []task.Spec
	submitErr error
	tasks     map[string]task.Snapshot
	stream    []task.Snapshot
	ready     bool
}

func newFakeService() *fakeService {
	return &fakeService{tasks: map[string]task.Snapshot{}, ready: true}
}

func (f *fakeService) Submit(_ context.Context, spec task.Spec) (push.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return push.SubmitResult{}, f.submitErr
	}
	f.submitted = append(f.submitted, spec)
	return push.SubmitResult{TaskID: "t-1", Status: task.StatusPending, Message: "push task queued"}, nil
}

func (f *fakeService) Status(_ context.Context, id string) (task.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.tasks[id]
	if !ok {
		return task.Snapshot{}, apperr.NotFound("task %s not found", id)
	}
	return snap, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) (push.CancelResult, error) {
	if _, err := f.Status(context.Background(), id); err != nil {
		return push.CancelResult{}, err
	}
	return push.CancelResult{TaskID: id, Success: true, Message: "task canceled"}, nil
}

func (f *fakeService) List() []task.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []task.Snapshot
	for _, s := range f.tasks {
		out = append(out, s)
	}
	return out
}

func (f *fakeService) History(_ context.Context, limit int) ([]task.Snapshot, error) {
	return nil, nil
}

func (f *fakeService) Watch(ctx context.Context, id string, _ time.Duration) (<-chan task.Snapshot, error) {
	if _, err := f.Status(ctx, id); err != nil {
		return nil, err
	}
	ch := make(chan task.Snapshot, len(f.stream))
	for _, s := range f.stream {
		ch <- s
	}
	close(ch)
	return ch, nil
}

func (f *fakeService) Stats() push.Stats {
	return push.Stats{Queued: 1, Running: 0, Ceiling: 2}
}

func (f *fakeService) Ready() bool {
	return f.ready
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, env
}

func TestPushMapsRequestToSpec(t *testing.T) {
	svc := newFakeService()
	srv := New(svc, Options{}, nil)

	body := `{"token":"tok","repo":"org/repo","branch":"dev","filepaths":["/tmp/a"],
		"conflict_strategy":"rename","ignore_patterns":["*.log"],"max_files":5,"force":true,"priority":3}`
	rec, env := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/git/push", body, nil)
	if rec.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("status = %d code = %d, want 200/0", rec.Code, env.Code)
	}
	if env.RequestID == "" || rec.Header().Get(requestIDHeader) != env.RequestID {
		t.Fatalf("request id not propagated: %q vs %q", env.RequestID, rec.Header().Get(requestIDHeader))
	}
	data := env.Data.(map[string]any)
	if data["task_id"] != "t-1" || data["status"] != "pending" {
		t.Fatalf("unexpected data %v", data)
	}

	if len(svc.submitted) != 1 {
		t.Fatalf("submitted %d specs", len(svc.submitted))
	}
	spec := svc.submitted[0]
	if spec.Credential != "tok" || spec.Repo != "org/repo" || spec.Branch != "dev" {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.Conflict != task.ConflictRename || spec.Limits.MaxFiles != 5 || !spec.Force || spec.Priority != 3 {
		t.Fatalf("unexpected spec %+v", spec)
	}
}

func TestPushErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "empty body", body: "", status: http.StatusUnprocessableEntity},
		{name: "malformed", body: "{", status: http.StatusUnprocessableEntity},
		{name: "unknown field", body: `{"repo":"a/b","bogus":1}`, status: http.StatusUnprocessableEntity},
		{name: "validation", body: `{"repo":"a/b"}`, err: apperr.Validation("at least one path is required"), status: http.StatusUnprocessableEntity},
		{name: "limit", body: `{"repo":"a/b"}`, err: apperr.LimitExceeded("too many files"), status: http.StatusBadRequest},
		{name: "internal", body: `{"repo":"a/b"}`, err: context.DeadlineExceeded, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.submitErr = tc.err
			rec, env := doRequest(t, New(svc, Options{}, nil).Handler(), http.MethodPost, "/api/v1/git/push", tc.body, nil)
			if rec.Code != tc.status || env.Code != tc.status {
				t.Fatalf("status = %d code = %d, want %d", rec.Code, env.Code, tc.status)
			}
			if tc.status == http.StatusInternalServerError && env.Message != "internal error" {
				t.Fatalf("internal error leaked: %q", env.Message)
			}
		})
	}
}

func TestStatusAndCancel(t *testing.T) {
	svc := newFakeService()
	svc.tasks["abc"] = task.Snapshot{Task: task.Task{
		ID:       "abc",
		RepoKey:  "github.com/org/repo",
		Status:   task.StatusError,
		Error:    "push failed with exit code 1",
		PID:      42,
		Counters: task.Counters{Copied: 2, TotalBytes: 10},
	}}
	h := New(svc, Options{}, nil).Handler()

	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := env.Data.(map[string]any)
	if data["status"] != "error" || data["error"] != "push failed with exit code 1" {
		t.Fatalf("unexpected status data %v", data)
	}
	if data["pid"].(float64) != 42 || data["copied_files"].(float64) != 2 || data["total_size_bytes"].(float64) != 10 {
		t.Fatalf("unexpected counters %v", data)
	}

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/git/status/missing", "", nil)
	if rec.Code != http.StatusNotFound || env.ErrorCode != string(apperr.CodeNotFound) {
		t.Fatalf("status = %d error_code = %q", rec.Code, env.ErrorCode)
	}

	rec, env = doRequest(t, h, http.MethodPost, "/api/v1/git/cancel/abc", "", nil)
	if rec.Code != http.StatusOK || env.Data.(map[string]any)["success"] != true {
		t.Fatalf("cancel status = %d data = %v", rec.Code, env.Data)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/tasks", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tasks status = %d", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/history?limit=x", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("history status = %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	svc := newFakeService()
	h := New(svc, Options{Version: "1.2.3"}, nil).Handler()

	_, env := doRequest(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if data := env.Data.(map[string]any); data["status"] != "ok" || data["version"] != "1.2.3" {
		t.Fatalf("unexpected health %v", env.Data)
	}

	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	svc.ready = false
	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready status = %d", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	const secret = "s3cret"
	svc := newFakeService()
	svc.tasks["abc"] = task.Snapshot{Task: task.Task{ID: "abc", Status: task.StatusPending}}
	h := New(svc, Options{JWTSecret: secret}, nil).Handler()

	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	bad, err := IssueToken("other", "ci", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc", "", http.Header{"Authorization": {"Bearer " + bad}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d", rec.Code)
	}

	expired, err := IssueToken(secret, "ci", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc", "", http.Header{"Authorization": {"Bearer " + expired}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rec.Code)
	}

	good, err := IssueToken(secret, "ci", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc", "", http.Header{"Authorization": {"Bearer " + good}})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/git/status/abc?access_token="+good, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token status = %d", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, status = %d", rec.Code)
	}

	claims, err := ParseToken(secret, good)
	if err != nil || claims.Subject != "ci" {
		t.Fatalf("ParseToken = %+v, %v", claims, err)
	}
}

func TestStreamSendsSnapshotsUntilTerminal(t *testing.T) {
	svc := newFakeService()
	svc.tasks["abc"] = task.Snapshot{Task: task.Task{ID: "abc", Status: task.StatusRunning}}
	svc.stream = []task.Snapshot{
		{Task: task.Task{ID: "abc", Status: task.StatusRunning, Progress: "staging files"}},
		{Task: task.Task{ID: "abc", Status: task.StatusDone, Progress: "push completed"}},
	}
	ts := httptest.NewServer(New(svc, Options{}, nil).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/git/stream/abc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []statusResponse
	for {
		var msg statusResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		got = append(got, msg)
	}
	if len(got) != 2 || got[0].Progress != "staging files" || got[1].Status != "done" {
		t.Fatalf("unexpected stream %+v", got)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	rec, env := doRequest(t, New(newFakeService(), Options{}, nil).Handler(), http.MethodGet, "/api/v1/git/stream/nope", "", nil)
	if rec.Code != http.StatusNotFound || env.Code != http.StatusNotFound {
		t.Fatalf("status = %d code = %d", rec.Code, env.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(newFakeService(), Options{Addr: "127.0.0.1:0"}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
