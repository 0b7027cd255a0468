package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"herald/internal/notify"
	logx "herald/pkg/logx"
)

// fakeEngine records webhook batches and serves canned admin responses.
type fakeEngine struct {
	mu      sync.Mutex
	batches [][]notify.ChangeRecord

	provisionErr   error
	registerErr    error
	panicOnWebhook bool
}

func (f *fakeEngine) HandleWebhook(records []notify.ChangeRecord) {
	if f.panicOnWebhook {
		panic("engine wedged")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, records)
}

func (f *fakeEngine) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeEngine) lastBatch() []notify.ChangeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func (f *fakeEngine) Provision(context.Context) (notify.CategoryStatus, error) {
	if f.provisionErr != nil {
		return notify.CategoryStatus{}, f.provisionErr
	}
	return notify.CategoryStatus{Category: "task-events", Working: 6, Total: 6}, nil
}

func (f *fakeEngine) Repair(ctx context.Context) (notify.CategoryStatus, error) {
	return f.Provision(ctx)
}

func (f *fakeEngine) ProvisionStatus() notify.CategoryStatus {
	return notify.CategoryStatus{Category: "task-events"}
}

func (f *fakeEngine) SelfTest(context.Context) []notify.SelfTestResult {
	return []notify.SelfTestResult{{Logical: "updates", OK: true}}
}

func (f *fakeEngine) RegisterWebhook(context.Context) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return "wh-123", nil
}

func (f *fakeEngine) Deliveries() []notify.DeliveryRecord { return nil }

func newTestServer(t *testing.T, adminToken string) (*Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	s, err := New(Config{Addr: ":0", AdminToken: adminToken}, eng, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, eng
}

func doReq(s *Server, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookHandshakeEchoesSecret(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, "")
	w := doReq(s, http.MethodPost, "/webhook", "", map[string]string{"X-Hook-Secret": "s3cret"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Hook-Secret"); got != "s3cret" {
		t.Errorf("echoed secret = %q, want s3cret", got)
	}
	if eng.batchCount() != 0 {
		t.Errorf("handshake enqueued %d batches, want 0", eng.batchCount())
	}
}

func TestWebhookValidBatch(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, "")
	payload := `{"events":[
		{"resource":{"resource_type":"task","gid":"t1"},"action":"added"},
		{"resource":{"resource_type":"task","gid":"t2"},"action":"changed",
		 "change":{"field":"completed","new_value":true}}
	]}`
	w := doReq(s, http.MethodPost, "/webhook", payload, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["status"] != "ok" {
		t.Fatalf("body = %s, want {\"status\":\"ok\"}", w.Body.String())
	}
	batch := eng.lastBatch()
	if len(batch) != 2 {
		t.Fatalf("enqueued %d records, want 2", len(batch))
	}
	if batch[0].Resource.GID != "t1" || batch[1].Change == nil {
		t.Errorf("batch decoded wrong: %+v", batch)
	}
}

func TestWebhookRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not JSON", "not json at all"},
		{"missing events key", `{"things":[]}`},
		{"events not an array", `{"events":{"resource":{}}}`},
		{"record without action", `{"events":[{"resource":{"resource_type":"task","gid":"t1"}}]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, eng := newTestServer(t, "")
			w := doReq(s, http.MethodPost, "/webhook", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("non-JSON error body: %s", w.Body.String())
			}
			if resp["status"] != "error" || resp["message"] == "" {
				t.Errorf("error body = %s, want status=error with message", w.Body.String())
			}
			if eng.batchCount() != 0 {
				t.Errorf("rejected payload still enqueued %d batches", eng.batchCount())
			}
		})
	}
}

func TestWebhookEmptyEventsListIsOK(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, "")
	w := doReq(s, http.MethodPost, "/webhook", `{"events":[]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// An empty batch is acknowledged but there is nothing to hand over.
	if got := eng.batchCount(); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	if got := len(eng.lastBatch()); got != 0 {
		t.Fatalf("last batch has %d records, want 0", got)
	}
}

func TestHandlerPanicReturns500(t *testing.T) {
	t.Parallel()

	s, eng := newTestServer(t, "")
	eng.panicOnWebhook = true

	w := doReq(s, http.MethodPost, "/webhook",
		`{"events":[{"resource":{"resource_type":"task","gid":"t1"},"action":"added"}]}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("non-JSON error body: %s", w.Body.String())
	}
	if resp["status"] != "error" || resp["message"] == "" {
		t.Errorf("error body = %s, want status=error with message", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, "")
	w := doReq(s, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, "hunter2")

	w := doReq(s, http.MethodGet, "/admin/status", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doReq(s, http.MethodGet, "/admin/status", "", map[string]string{"X-Admin-Token": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", w.Code)
	}

	w = doReq(s, http.MethodGet, "/admin/status", "", map[string]string{"X-Admin-Token": "hunter2"})
	if w.Code != http.StatusOK {
		t.Fatalf("right token: status = %d, want 200; body %s", w.Code, w.Body.String())
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, "")
	w := doReq(s, http.MethodGet, "/admin/status", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when admin API is disabled", w.Code)
	}
}

func TestAdminProvisionAndWebhookRegistration(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, "hunter2")
	hdr := map[string]string{"X-Admin-Token": "hunter2"}

	w := doReq(s, http.MethodPost, "/admin/provision", "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("provision status = %d, want 200", w.Code)
	}
	var st notify.CategoryStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Working != 6 {
		t.Fatalf("provision body = %s", w.Body.String())
	}

	w = doReq(s, http.MethodPost, "/admin/webhook-registration", "", hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("registration status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["webhook_id"] != "wh-123" {
		t.Fatalf("registration body = %s", w.Body.String())
	}
}
