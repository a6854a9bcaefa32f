package status

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/relaylink/internal/eventbus"
	"github.com/rickgao/relaylink/internal/supervisor"
	"github.com/rickgao/relaylink/internal/version"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
	maxEventBody        = 1 << 20
)

// Health values.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type healthResponse struct {
	Status     string              `json:"status"`
	Version    string              `json:"version"`
	Connection supervisor.Snapshot `json:"connection"`
	Bus        eventbus.Stats      `json:"bus"`
}

// handleHealth reports the relay connection. A permanent stop is unhealthy
// since only an operator or a new credential can clear it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.sup.Snapshot()

	resp := healthResponse{
		Status:     HealthHealthy,
		Version:    version.Version,
		Connection: snap,
	}
	if s.bus != nil {
		resp.Bus = s.bus.Stats()
	}

	code := http.StatusOK
	switch {
	case snap.Stopped:
		resp.Status = HealthUnhealthy
		code = http.StatusServiceUnavailable
	case snap.Status != supervisor.StatusOpen:
		resp.Status = HealthDegraded
	}

	writeJSON(w, code, resp)
}

type journalEvent struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId,omitempty"`
	Kind         string    `json:"kind"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Code         int       `json:"code,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	DelaySeconds float64   `json:"delaySeconds,omitempty"`
	At           time.Time `json:"at"`
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("failed to read journal", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}

	out := make([]journalEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, journalEvent{
			ID:           ev.ID,
			SessionID:    ev.SessionID,
			Kind:         string(ev.Kind),
			From:         ev.From,
			To:           ev.To,
			Code:         ev.Code,
			Reason:       ev.Reason,
			DelaySeconds: ev.Delay.Seconds(),
			At:           ev.At,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"events": out,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	resumed := s.sup.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": resumed})
}

// handlePublish publishes the JSON request body on the named field.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")

	var payload any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := dec.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "event body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "event body is empty")
		default:
			writeError(w, http.StatusBadRequest, "event body is not valid JSON")
		}
		return
	}

	delivered := s.bus.Publish(field, payload)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"field":     field,
		"delivered": delivered,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
