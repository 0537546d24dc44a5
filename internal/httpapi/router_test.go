package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/aether/internal/chat"
	"github.com/suPer8Hu/aether/internal/httpapi/handlers"
	"gorm.io/gorm"
)

type scriptedBackend struct {
	mu   sync.Mutex
	fail bool
}

func (b *scriptedBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func (b *scriptedBackend) StartChat(context.Context, []chat.Message) (chat.Exchanger, error) {
	return b, nil
}

func (b *scriptedBackend) Generate(context.Context, string) (string, error) { return "summary", nil }

func (b *scriptedBackend) Send(ctx context.Context, transcript []chat.Message, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("upstream 503")
	}
	return "you said: " + text, nil
}

type historyResp struct {
	History []struct {
		Role  string   `json:"role"`
		Parts []string `json:"parts"`
	} `json:"history"`
}

func newTestRouter(t *testing.T, b chat.Backend) (*gin.Engine, *handlers.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg, err := chat.NewRegistry(b, chat.SessionOptions{
		Prefix: chat.DefaultPrefix(),
		Policy: chat.Policy{Kind: chat.PolicyTruncate, MaxHistory: 10},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := handlers.NewHandler(reg)
	return NewRouter(h), h
}

func do(t *testing.T, r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestRootAndPing(t *testing.T) {
	r, _ := newTestRouter(t, &scriptedBackend{})

	w := do(t, r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK || decode[map[string]string](t, w)["message"] != "Chatbot API is running!" {
		t.Fatalf("unexpected root response: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/ping", "", nil); w.Code != http.StatusOK {
		t.Fatalf("ping: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", w.Code)
	}
}

func TestDefaultSession_SendHistoryClear(t *testing.T) {
	r, _ := newTestRouter(t, &scriptedBackend{})
	prefixLen := len(chat.DefaultPrefix())

	w := do(t, r, http.MethodPost, "/send_message", `{"message":"I feel anxious"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w)["response"]; got != "you said: I feel anxious" {
		t.Fatalf("unexpected response %q", got)
	}

	hist := decode[historyResp](t, do(t, r, http.MethodGet, "/chat_history", "", nil))
	if len(hist.History) != prefixLen+2 {
		t.Fatalf("expected %d history entries, got %d", prefixLen+2, len(hist.History))
	}
	last := hist.History[len(hist.History)-1]
	if last.Role != "model" || len(last.Parts) != 1 || last.Parts[0] != "you said: I feel anxious" {
		t.Fatalf("unexpected last entry: %+v", last)
	}

	w = do(t, r, http.MethodDelete, "/clear_history", "", nil)
	if w.Code != http.StatusOK || decode[map[string]string](t, w)["message"] != "Chat history reset to default." {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
	hist = decode[historyResp](t, do(t, r, http.MethodGet, "/chat_history", "", nil))
	if len(hist.History) != prefixLen {
		t.Fatalf("expected only the persona after clear, got %d", len(hist.History))
	}
}

func TestSend_Validation(t *testing.T) {
	r, _ := newTestRouter(t, &scriptedBackend{})

	for _, body := range []string{`{"message":""}`, `{"message":"  "}`, `{}`, `not json`} {
		if w := do(t, r, http.MethodPost, "/send_message", body, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	hist := decode[historyResp](t, do(t, r, http.MethodGet, "/chat_history", "", nil))
	if len(hist.History) != len(chat.DefaultPrefix()) {
		t.Fatalf("rejected input changed the transcript")
	}
}

func TestSend_BackendFailure(t *testing.T) {
	b := &scriptedBackend{fail: true}
	r, _ := newTestRouter(t, b)

	w := do(t, r, http.MethodPost, "/send_message", `{"message":"hello"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["message"] != "internal error" {
		t.Fatalf("backend details leaked: %v", resp)
	}

	hist := decode[historyResp](t, do(t, r, http.MethodGet, "/chat_history", "", nil))
	last := hist.History[len(hist.History)-1]
	if last.Role != "user" || last.Parts[0] != "hello" {
		t.Fatalf("expected trailing user turn, got %+v", last)
	}

	b.setFail(false)
	if w := do(t, r, http.MethodPost, "/send_message", `{"message":"again"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("conversation should continue, got %d", w.Code)
	}
}

func TestKeyedSessions(t *testing.T) {
	r, _ := newTestRouter(t, &scriptedBackend{})

	w := do(t, r, http.MethodPost, "/sessions", "", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}
	sid := decode[map[string]string](t, w)["session_id"]
	if len(sid) != 26 {
		t.Fatalf("unexpected session id %q", sid)
	}

	if w := do(t, r, http.MethodPost, "/sessions/"+sid+"/messages", `{"message":"hi"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	hist := decode[historyResp](t, do(t, r, http.MethodGet, "/sessions/"+sid+"/history", "", nil))
	if len(hist.History) != len(chat.DefaultPrefix())+2 {
		t.Fatalf("unexpected history length %d", len(hist.History))
	}

	// The default session is untouched.
	def := decode[historyResp](t, do(t, r, http.MethodGet, "/chat_history", "", nil))
	if len(def.History) != len(chat.DefaultPrefix()) {
		t.Fatalf("default session saw keyed session turns")
	}

	if w := do(t, r, http.MethodDelete, "/sessions/"+sid+"/history", "", nil); w.Code != http.StatusOK {
		t.Fatalf("clear: %d", w.Code)
	}
	longID := strings.Repeat("a", chat.MaxSessionIDLen+1)
	if w := do(t, r, http.MethodPost, "/sessions/"+longID+"/messages", `{"message":"hi"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an over-long session id, got %d", w.Code)
	}

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/unknown/history"},
		{http.MethodDelete, "/sessions/unknown/history"},
	} {
		if w := do(t, r, req.method, req.path, "", nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", req.method, req.path, w.Code)
		}
	}
}

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, jobID)
	return nil
}

type memIdempotency struct {
	mu     sync.Mutex
	claims map[string]string
}

func (m *memIdempotency) ClaimIdempotencyKey(ctx context.Context, sessionID, key, jobID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionID + ":" + key
	if existing, ok := m.claims[k]; ok {
		return existing, false, nil
	}
	m.claims[k] = jobID
	return jobID, true, nil
}

func (m *memIdempotency) ReleaseIdempotencyKey(ctx context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, sessionID+":"+key)
	return nil
}

func TestAsyncRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(gormsqlite.Open("file:router_async?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := chat.NewRepo(db)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, _ := chat.NewRegistry(&scriptedBackend{}, chat.SessionOptions{
		Policy: chat.Policy{Kind: chat.PolicyTruncate, MaxHistory: 10},
	})
	pub := &fakePublisher{}
	h := handlers.NewHandler(reg).WithAsync(repo, pub, &memIdempotency{claims: map[string]string{}})
	r := NewRouter(h)

	hdr := map[string]string{"Idempotency-Key": "k1"}
	w := do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"later"}`, hdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("async send: %d %s", w.Code, w.Body.String())
	}
	jobID := decode[map[string]string](t, w)["job_id"]

	w = do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"later"}`, hdr)
	if again := decode[map[string]string](t, w)["job_id"]; again != jobID {
		t.Fatalf("idempotent retry returned %q, want %q", again, jobID)
	}
	if len(pub.ids) != 1 || pub.ids[0] != jobID {
		t.Fatalf("expected a single publish, got %v", pub.ids)
	}

	w = do(t, r, http.MethodGet, "/jobs/"+jobID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get job: %d", w.Code)
	}
	var jr struct {
		Job struct {
			Status    string `json:"status"`
			SessionID string `json:"session_id"`
		} `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &jr); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if jr.Job.Status != string(chat.JobQueued) || jr.Job.SessionID != "s1" {
		t.Fatalf("unexpected job: %+v", jr.Job)
	}

	longID := strings.Repeat("a", chat.MaxSessionIDLen+1)
	if w := do(t, r, http.MethodPost, "/sessions/"+longID+"/messages/async", `{"message":"hi"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an over-long session id, got %d", w.Code)
	}
	if len(pub.ids) != 1 {
		t.Fatalf("rejected session id was enqueued: %v", pub.ids)
	}

	if w := do(t, r, http.MethodGet, "/jobs/missing", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":""}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", w.Code)
	}

	pub.err = errors.New("broker down")
	if w := do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"x"}`, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on publish failure, got %d", w.Code)
	}

	// A retry with the key of a failed enqueue gets a fresh job.
	retryHdr := map[string]string{"Idempotency-Key": "k2"}
	if w := do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"retry me"}`, retryHdr); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on publish failure, got %d", w.Code)
	}
	pub.err = nil
	w = do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"retry me"}`, retryHdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry after publish failure: %d %s", w.Code, w.Body.String())
	}
	retryID := decode[map[string]string](t, w)["job_id"]
	if len(pub.ids) != 2 || pub.ids[1] != retryID {
		t.Fatalf("expected the retry to be published, got %v", pub.ids)
	}
	retried, err := repo.GetJobByID(context.Background(), retryID)
	if err != nil {
		t.Fatalf("get retried job: %v", err)
	}
	if retried.Status != chat.JobQueued {
		t.Fatalf("retry points at a %s job", retried.Status)
	}
}

func TestAsyncRoutesDisabled(t *testing.T) {
	r, _ := newTestRouter(t, &scriptedBackend{})
	if w := do(t, r, http.MethodPost, "/sessions/s1/messages/async", `{"message":"x"}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected async routes to be absent, got %d", w.Code)
	}
}
