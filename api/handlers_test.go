package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/simonbegg/todo/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string][]domain.Task
	nextID    int
	insertErr error
	inserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string][]domain.Task)}
}

func (f *fakeStore) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.Task(nil), f.tasks[userID]...)
	domain.SortByOrder(out)
	return out, nil
}

func (f *fakeStore) MinOrder(ctx context.Context, userID string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	min, ok := domain.MinOrder(f.tasks[userID])
	return min, ok, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return domain.Task{}, f.insertErr
	}
	f.nextID++
	task := domain.Task{ID: "t" + strconv.Itoa(f.nextID), Text: n.Text, DueDate: n.DueDate, Order: n.Order}
	f.tasks[userID] = append(f.tasks[userID], task)
	return task, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := domain.IndexOf(f.tasks[userID], taskID)
	if i < 0 {
		return domain.ErrTaskNotFound
	}
	f.tasks[userID][i] = patch.Apply(f.tasks[userID][i])
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := domain.IndexOf(f.tasks[userID], taskID)
	if i < 0 {
		return domain.ErrTaskNotFound
	}
	f.tasks[userID] = append(f.tasks[userID][:i], f.tasks[userID][i+1:]...)
	return nil
}

// fakeAuth accepts "Bearer <user>" and rejects everything else.
type fakeAuth struct{}

func (fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	user, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || user == "" {
		return "", errMissingAuthorization
	}
	return user, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.Change
	err     error
}

func (r *recordingPublisher) Publish(ctx context.Context, c domain.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recordingPublisher) Changes() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Change(nil), r.changes...)
}

type testServer struct {
	e     *echo.Echo
	store *fakeStore
	pub   *recordingPublisher
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := &testServer{e: echo.New(), store: newFakeStore(), pub: &recordingPublisher{}}
	Register(s.e, Deps{
		Tasks:   s.store,
		Auth:    fakeAuth{},
		Changes: s.pub,
		Deduper: deduper,
		Logger:  logger,
	})
	return s
}

func (s *testServer) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestGetTasksSortedByOrder(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.tasks["alice"] = []domain.Task{{ID: "b", Text: "b", Order: 1}, {ID: "a", Text: "a", Order: -1}}
	s.store.tasks["bob"] = []domain.Task{{ID: "x", Text: "x", Order: 0}}

	rec := s.do(http.MethodGet, "/api/tasks", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 2 || resp.Tasks[0].ID != "a" || resp.Tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %#v", resp.Tasks)
	}
}

func TestGetTasksEmptyListIsArray(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/tasks", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tasks":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/tasks"},
		{http.MethodGet, "/api/tasks/min-order"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodPatch, "/api/tasks/t1"},
		{http.MethodDelete, "/api/tasks/t1"},
		{http.MethodGet, "/api/me"},
	} {
		rec := s.do(route.method, route.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", route.method, route.path, rec.Code)
		}
	}
	if len(s.pub.Changes()) != 0 {
		t.Fatalf("expected no changes published")
	}
}

func TestGetMe(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/me", "alice", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"userId":"alice"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetMinOrder(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/tasks/min-order", "alice", "")
	var resp minOrderResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Exists {
		t.Fatalf("expected no minimum for empty list: %#v", resp)
	}

	s.store.tasks["alice"] = []domain.Task{{ID: "a", Order: 3}, {ID: "b", Order: -2}}
	rec = s.do(http.MethodGet, "/api/tasks/min-order", "alice", "")
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Exists || resp.Order != -2 {
		t.Fatalf("unexpected min order: %#v", resp)
	}
}

func TestPostTaskCreatesAndPublishes(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/api/tasks", "alice", `{"text":"  buy milk ","order":-1,"dueDate":"2024-06-01T00:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.Text != "buy milk" || task.Order != -1 || task.DueDate == nil {
		t.Fatalf("unexpected task: %#v", task)
	}
	changes := s.pub.Changes()
	if len(changes) != 1 || changes[0].Kind != domain.ChangeCreated || changes[0].UserID != "alice" || changes[0].TaskID != task.ID {
		t.Fatalf("unexpected changes: %#v", changes)
	}
	if changes[0].Time.IsZero() {
		t.Fatalf("expected change time to be set")
	}
}

func TestPostTaskRejectsInvalidBodies(t *testing.T) {
	s := newTestServer(t, nil)
	for _, body := range []string{`{"text":"   "}`, `{"text":"x","extra":1}`, `not json`} {
		rec := s.do(http.MethodPost, "/api/tasks", "alice", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, rec.Code)
		}
	}
	if s.store.inserts != 0 {
		t.Fatalf("expected no inserts, got %d", s.store.inserts)
	}
	if len(s.pub.Changes()) != 0 {
		t.Fatalf("expected no changes published")
	}
}

func TestPostTaskIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	body := `{"text":"once","order":0}`

	first := s.do(http.MethodPost, "/api/tasks", "alice", body, headerIdempotentKey, "k1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", first.Code)
	}
	second := s.do(http.MethodPost, "/api/tasks", "alice", body, headerIdempotentKey, "k1")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", second.Code)
	}
	other := s.do(http.MethodPost, "/api/tasks", "bob", body, headerIdempotentKey, "k1")
	if other.Code != http.StatusCreated {
		t.Fatalf("expected keys to be scoped per user, got %d", other.Code)
	}
	if s.store.inserts != 2 {
		t.Fatalf("expected 2 inserts, got %d", s.store.inserts)
	}
}

func TestPostTaskFailureReleasesIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	s.store.insertErr = errors.New("table unavailable")

	rec := s.do(http.MethodPost, "/api/tasks", "alice", `{"text":"x"}`, headerIdempotentKey, "k1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "table unavailable") {
		t.Fatalf("internal error leaked to client: %s", rec.Body.String())
	}

	s.store.insertErr = nil
	rec = s.do(http.MethodPost, "/api/tasks", "alice", `{"text":"x"}`, headerIdempotentKey, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d", rec.Code)
	}
}

func TestPatchTask(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.tasks["alice"] = []domain.Task{{ID: "a", Text: "a", Order: 4}}

	rec := s.do(http.MethodPatch, "/api/tasks/a", "alice", `{"completed":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rec.Code, rec.Body.String())
	}
	got := s.store.tasks["alice"][0]
	if !got.Completed || got.Order != 4 {
		t.Fatalf("unexpected task: %#v", got)
	}

	rec = s.do(http.MethodPatch, "/api/tasks/a", "alice", `{"order":0}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if s.store.tasks["alice"][0].Order != 0 {
		t.Fatalf("expected order 0, got %d", s.store.tasks["alice"][0].Order)
	}

	changes := s.pub.Changes()
	if len(changes) != 2 || changes[1].Kind != domain.ChangeUpdated || changes[1].TaskID != "a" {
		t.Fatalf("unexpected changes: %#v", changes)
	}
}

func TestPatchTaskErrors(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.tasks["alice"] = []domain.Task{{ID: "a", Text: "a"}}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown", path: "/api/tasks/missing", body: `{"completed":true}`, want: http.StatusNotFound},
		{name: "empty patch", path: "/api/tasks/a", body: `{}`, want: http.StatusBadRequest},
		{name: "blank text", path: "/api/tasks/a", body: `{"text":"  "}`, want: http.StatusBadRequest},
		{name: "bad json", path: "/api/tasks/a", body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPatch, tt.path, "alice", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d got %d", tt.want, rec.Code)
			}
		})
	}
	if len(s.pub.Changes()) != 0 {
		t.Fatalf("expected no changes published on failures")
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.tasks["alice"] = []domain.Task{{ID: "a"}, {ID: "b", Order: 1}}

	if rec := s.do(http.MethodDelete, "/api/tasks/a", "alice", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := s.do(http.MethodDelete, "/api/tasks/a", "alice", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if rec := s.do(http.MethodDelete, "/api/tasks/b", "bob", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected other users' tasks to be invisible, got %d", rec.Code)
	}
	changes := s.pub.Changes()
	if len(changes) != 1 || changes[0].Kind != domain.ChangeDeleted {
		t.Fatalf("unexpected changes: %#v", changes)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	s := newTestServer(t, nil)
	s.pub.err = errors.New("redis down")
	rec := s.do(http.MethodPost, "/api/tasks", "alice", `{"text":"x"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
