package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"orderflow/internal/journal"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
)

// ingester is the publish/ack gateway behind the HTTP surface.
type ingester interface {
	Ingest(ctx context.Context, order model.RawOrder) model.IngestResult
}

// journalReader exposes recent publish attempts for introspection.
type journalReader interface {
	Recent(limit int) ([]journal.Entry, error)
}

// Server is the ingest HTTP API. Response classes map one to one onto the
// gateway outcomes: 200 SENT, 202 PENDING, 502 FAILED.
type Server struct {
	gateway     ingester
	journal     journalReader
	metrics     *metrics.Registry
	recentLimit int
	logger      zerolog.Logger
}

// New constructs the API server. jrnl may be nil; the recent endpoint then
// answers 404.
func New(gw ingester, jrnl journalReader, reg *metrics.Registry, recentLimit int, logger zerolog.Logger) *Server {
	if recentLimit <= 0 {
		recentLimit = 50
	}
	return &Server{
		gateway:     gw,
		journal:     jrnl,
		metrics:     reg,
		recentLimit: recentLimit,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest", s.handleIngest)
	mux.HandleFunc("/api/ingest/recent", s.handleRecent)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", addr).Msg("ingest API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var order model.RawOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order payload: " + err.Error()})
		return
	}
	if order.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "orderId is required"})
		return
	}
	if order.Amount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be non-negative"})
		return
	}

	result := s.gateway.Ingest(r.Context(), order)
	writeJSON(w, statusCode(result.Status), result)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal not enabled"})
		return
	}
	entries, err := s.journal.Recent(s.recentLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal read failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal read failed"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusCode(status string) int {
	switch status {
	case model.StatusSent:
		return http.StatusOK
	case model.StatusPending:
		return http.StatusAccepted
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
