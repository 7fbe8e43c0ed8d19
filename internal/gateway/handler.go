package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/auth"
	"github.com/vigil-labs/vigil-gate/internal/httputil"
	"github.com/vigil-labs/vigil-gate/internal/pipeline"
)

// defaultMaxBodyBytes caps the request body when the server config does
// not set a limit. Prompts beyond the cap are rejected before any
// scanning work starts.
const defaultMaxBodyBytes = 1 << 20

// Checker runs the safety pipeline for one request.
type Checker interface {
	Check(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Handler holds dependencies for the gate HTTP handlers.
type Handler struct {
	pipeline Checker
	maxBody  int64
	logger   *slog.Logger
}

func NewHandler(p Checker, maxBody int64, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{pipeline: p, maxBody: maxBody, logger: logger}
}

type checkRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// Check handles POST /v1/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteBadRequestError(w, reqID, "Request body too large")
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		httputil.WriteBadRequestError(w, reqID, "text is required")
		return
	}

	res, err := h.pipeline.Check(r.Context(), pipeline.Request{
		RequestID: reqID,
		SessionID: req.SessionID,
		Text:      req.Text,
	})
	if err != nil {
		// the only pipeline error is caller cancellation
		h.logger.Warn("check aborted", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Request cancelled")
		return
	}

	h.logger.Info("check completed",
		"request_id", reqID,
		"app_id", authInfo.AppID,
		"decision", res.Decision,
		"score", res.Breakdown.ClampedScore,
		"short_circuit", res.ShortCircuit,
		"pii_count", len(res.PII),
		"removal_pct", res.RemovalPct,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// Health handles GET /v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
