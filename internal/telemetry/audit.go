package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord is the immutable per-request snapshot handed to the sink
// after the response is composed. It is never mutated after creation.
type AuditRecord struct {
	RequestID    string          `json:"request_id"`
	SessionID    string          `json:"session_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Decision     string          `json:"decision"`
	ClampedScore float64         `json:"clamped_score"`
	FusedScore   float64         `json:"fused_score"`
	Overridden   bool            `json:"overridden"`
	ShortCircuit bool            `json:"short_circuit"`
	RemovalPct   float64         `json:"removal_pct"`
	PIICount     int             `json:"pii_count"`
	Breakdown    json.RawMessage `json:"breakdown,omitempty"`
	DurationMs   float64         `json:"duration_ms"`
}

// Sink receives one AuditRecord per completed request. Delivery is
// best-effort; a Sink must never block the response path.
type Sink interface {
	Write(rec *AuditRecord)
}

// LogSink writes audit records to structured logs.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(rec *AuditRecord) {
	s.logger.Info("audit",
		"request_id", rec.RequestID,
		"session_id", rec.SessionID,
		"decision", rec.Decision,
		"clamped_score", rec.ClampedScore,
		"fused_score", rec.FusedScore,
		"overridden", rec.Overridden,
		"short_circuit", rec.ShortCircuit,
		"removal_pct", rec.RemovalPct,
		"pii_count", rec.PIICount,
		"duration_ms", rec.DurationMs,
	)
}

// PostgresSink persists audit records asynchronously through a buffered
// channel. When the buffer is full the record is dropped and counted in
// the log; the response path never waits on the database.
type PostgresSink struct {
	db     *pgxpool.Pool
	ch     chan *AuditRecord
	done   chan struct{}
	logger *slog.Logger
}

func NewPostgresSink(db *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	s := &PostgresSink{
		db:     db,
		ch:     make(chan *AuditRecord, 1024),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *PostgresSink) Write(rec *AuditRecord) {
	select {
	case s.ch <- rec:
	default:
		s.logger.Warn("audit buffer full, record dropped", "request_id", rec.RequestID)
	}
}

// Close drains buffered records and stops the writer.
func (s *PostgresSink) Close() {
	close(s.ch)
	<-s.done
}

func (s *PostgresSink) run() {
	defer close(s.done)
	for rec := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := s.db.Exec(ctx, `
			INSERT INTO audit_records
				(request_id, session_id, created_at, decision, clamped_score,
				 fused_score, overridden, short_circuit, removal_pct, pii_count,
				 breakdown, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, rec.RequestID, rec.SessionID, rec.CreatedAt, rec.Decision, rec.ClampedScore,
			rec.FusedScore, rec.Overridden, rec.ShortCircuit, rec.RemovalPct, rec.PIICount,
			rec.Breakdown, rec.DurationMs)
		cancel()
		if err != nil {
			s.logger.Error("audit insert failed", "request_id", rec.RequestID, "error", err)
		}
	}
}
