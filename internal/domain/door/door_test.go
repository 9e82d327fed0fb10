package door

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agent-door/agentdoor/internal/adapter/outbound/memory"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

type stubInvoker struct {
	data   json.RawMessage
	status int
	err    error
}

func (s *stubInvoker) Invoke(ctx context.Context, params map[string]string, query map[string][]string, body json.RawMessage) (json.RawMessage, int, error) {
	return s.data, s.status, s.err
}

func testCaps() []tenant.Capability {
	return []tenant.Capability{
		{Name: "listItems", Method: http.MethodGet, PathTemplate: "/items", Invoke: &stubInvoker{data: json.RawMessage(`{"items":[]}`), status: 200}},
		{Name: "detail", Method: http.MethodGet, PathTemplate: "/items/{id}", Invoke: &stubInvoker{data: json.RawMessage(`{"id":"x"}`), status: 200}},
		{Name: "secureOp", Method: http.MethodPost, PathTemplate: "/secure", RequiresSession: true, Invoke: &stubInvoker{data: json.RawMessage(`{"ok":1}`), status: 200}},
	}
}

func TestDoor_AgentsJSON(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodGet, DefaultBase+"/agents.json", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		SchemaVersion string `json:"schema_version"`
		Capabilities  []struct {
			Name string `json:"name"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SchemaVersion != "1.0" {
		t.Errorf("expected schema_version 1.0, got %q", body.SchemaVersion)
	}
	if len(body.Capabilities) != 3 {
		t.Fatalf("expected 3 capabilities, got %d", len(body.Capabilities))
	}
}

func TestDoor_AgentsTxt(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodGet, DefaultBase+"/agents.txt", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "listItems") {
		t.Errorf("expected capability listing, got %q", rec.Body.String())
	}
}

func TestDoor_SessionCreateAndEnd(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodPost, DefaultBase+"/agents/api/session", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var created struct {
		SessionToken string   `json:"session_token"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.SessionToken) != 64 {
		t.Errorf("expected 64-char token, got %d chars", len(created.SessionToken))
	}

	endReq := httptest.NewRequest(http.MethodDelete, DefaultBase+"/agents/api/session", nil)
	endReq.Header.Set("Authorization", "Bearer "+created.SessionToken)
	endRec := httptest.NewRecorder()
	d.ServeHTTP(endRec, endReq)
	if endRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", endRec.Code)
	}
}

func TestDoor_CapabilityRequiresSession(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodPost, DefaultBase+"/agents/api/secureOp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestDoor_DetailRouteBindsID(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodGet, DefaultBase+"/agents/api/detail/42", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDoor_RateLimitExceeded(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 1)
	defer d.Destroy()

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, DefaultBase+"/agents/api/listItems", nil)
		r.RemoteAddr = "203.0.113.5:1234"
		return r
	}

	rec1 := httptest.NewRecorder()
	d.ServeHTTP(rec1, req())
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	d.ServeHTTP(rec2, req())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d", rec2.Code)
	}
}

func TestDoor_UpstreamFailureSurfacesStatusOnly(t *testing.T) {
	caps := []tenant.Capability{
		{Name: "listItems", Method: http.MethodGet, PathTemplate: "/items", Invoke: &stubInvoker{status: 503, err: &stubUpstreamError{status: 503}}},
	}
	d := New(Site{Name: "Test Site"}, caps, memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodGet, DefaultBase+"/agents/api/listItems", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Upstream returned 503") {
		t.Errorf("expected status-only message, got %q", rec.Body.String())
	}
}

type stubUpstreamError struct{ status int }

func (e *stubUpstreamError) Error() string { return "upstream error" }

func TestDoor_OptionsPreflight(t *testing.T) {
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodOptions, DefaultBase+"/agents/api/listItems", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS header on preflight, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestDoor_UnknownSlugNotDoorConcern(t *testing.T) {
	// Door has no knowledge of slugs; 404 handling for unknown slugs is the
	// gateway's responsibility, not this package's. This test documents
	// that an unmatched path within a Door's own namespace 404s normally.
	d := New(Site{Name: "Test Site"}, testCaps(), memory.NewSessionStore(), memory.NewRateLimiter(), 60)
	defer d.Destroy()

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
