package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vigil-labs/vigil-gate/internal/auth"
	"github.com/vigil-labs/vigil-gate/internal/decision"
	"github.com/vigil-labs/vigil-gate/internal/pipeline"
)

type stubChecker struct {
	res *pipeline.Result
	err error
	got pipeline.Request
}

func (s *stubChecker) Check(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	s.got = req
	return s.res, s.err
}

func authedRequest(body string) (*httptest.ResponseRecorder, *http.Request) {
	req := httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(body))
	req = req.WithContext(auth.ContextWithAuth(req.Context(), &auth.AuthInfo{
		KeyID: "key-1",
		AppID: "app-1",
	}))
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	return rec, req
}

func TestCheck_Success(t *testing.T) {
	stub := &stubChecker{res: &pipeline.Result{
		Decision:   decision.Allow,
		OutputText: "hello",
	}}
	h := NewHandler(stub, 0, slog.Default())

	rec, req := authedRequest(`{"text":"hello","session_id":"sess-9"}`)
	h.Check(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.got.Text != "hello" || stub.got.SessionID != "sess-9" {
		t.Errorf("pipeline got %+v", stub.got)
	}
	if stub.got.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", stub.got.RequestID)
	}

	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if res.Decision != decision.Allow || res.OutputText != "hello" {
		t.Errorf("response = %+v", res)
	}
}

func TestCheck_EmptyText(t *testing.T) {
	h := NewHandler(&stubChecker{res: &pipeline.Result{}}, 0, slog.Default())

	rec, req := authedRequest(`{"text":""}`)
	h.Check(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCheck_InvalidJSON(t *testing.T) {
	h := NewHandler(&stubChecker{res: &pipeline.Result{}}, 0, slog.Default())

	rec, req := authedRequest(`{"text": `)
	h.Check(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCheck_Unauthenticated(t *testing.T) {
	h := NewHandler(&stubChecker{res: &pipeline.Result{}}, 0, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	h.Check(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCheck_BodyTooLarge(t *testing.T) {
	h := NewHandler(&stubChecker{res: &pipeline.Result{}}, 0, slog.Default())

	big := `{"text":"` + strings.Repeat("a", defaultMaxBodyBytes+1) + `"}`
	rec, req := authedRequest(big)
	h.Check(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := NewHandler(&stubChecker{}, 0, slog.Default())

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
