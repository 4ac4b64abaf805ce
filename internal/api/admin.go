package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qlite/qlite/internal/engine"
	"github.com/qlite/qlite/internal/store"
)

// The admin surface is a small JSON API for inspection and recovery
// operations that have no SQS wire equivalent: listing raw message rows,
// restoring a message, and working with dead-letter records.

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrQueueNotFound):
		writeJSONError(w, http.StatusNotFound, "queue not found")
	case engine.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type adminMessage struct {
	ID             string `json:"id"`
	QueueName      string `json:"queueName"`
	Body           string `json:"body"`
	Status         string `json:"status"`
	ReceiveCount   int    `json:"receiveCount"`
	CreatedAt      string `json:"createdAt"`
	DeadlineAt     string `json:"visibilityDeadline,omitempty"`
	DelayUntil     string `json:"delayUntil,omitempty"`
	MessageGroupID string `json:"messageGroupId,omitempty"`
	SequenceNumber int64  `json:"sequenceNumber,omitempty"`
}

func toAdminMessage(m *store.Message) adminMessage {
	out := adminMessage{
		ID:             m.ID,
		QueueName:      m.QueueName,
		Body:           m.Body,
		Status:         m.Status,
		ReceiveCount:   m.ReceiveCount,
		CreatedAt:      store.FormatTime(m.CreatedAt),
		MessageGroupID: m.MessageGroupID,
		SequenceNumber: m.SequenceNumber,
	}
	if m.VisibilityDeadline != nil {
		out.DeadlineAt = store.FormatTime(*m.VisibilityDeadline)
	}
	if m.DelayUntil != nil {
		out.DelayUntil = store.FormatTime(*m.DelayUntil)
	}
	return out
}

// handleAdminListQueues serves GET /api/queues.
func (s *Server) handleAdminListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.engine.ListQueues(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	type queueRow struct {
		Name      string `json:"name"`
		CreatedAt string `json:"createdAt"`
		URL       string `json:"url"`
	}
	rows := make([]queueRow, 0, len(queues))
	for _, q := range queues {
		rows = append(rows, queueRow{
			Name:      q.Name,
			CreatedAt: store.FormatTime(q.CreatedAt),
			URL:       s.queueURL(q.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": rows})
}

// handleAdminQueueMessages serves GET /api/queues/{queueName}/messages.
func (s *Server) handleAdminQueueMessages(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queueName")
	msgs, err := s.engine.GetQueueMessages(r.Context(), queue)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	rows := make([]adminMessage, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, toAdminMessage(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": queue, "messages": rows})
}

// handleAdminRestoreMessage serves POST /api/messages/{messageId}/restore.
func (s *Server) handleAdminRestoreMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	restored, err := s.engine.RestoreMessage(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if !restored {
		writeJSONError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": true, "messageId": id})
}

// handleAdminDLQMessages serves GET /api/dlq/{queueName}/messages.
func (s *Server) handleAdminDLQMessages(w http.ResponseWriter, r *http.Request) {
	dlq := chi.URLParam(r, "queueName")
	records, err := s.engine.GetDLQMessages(r.Context(), dlq)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	type dlqRow struct {
		ID            string `json:"id"`
		OriginalQueue string `json:"originalQueue"`
		FailureReason string `json:"failureReason"`
		MovedAt       string `json:"movedAt"`
		Body          string `json:"body"`
		ReceiveCount  int    `json:"receiveCount"`
	}
	rows := make([]dlqRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, dlqRow{
			ID:            rec.ID,
			OriginalQueue: rec.OriginalQueue,
			FailureReason: rec.FailureReason,
			MovedAt:       store.FormatTime(rec.MovedAt),
			Body:          rec.OriginalBody,
			ReceiveCount:  rec.ReceiveCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dlq": dlq, "messages": rows})
}

// handleAdminDLQRedrive serves POST /api/dlq/{queueName}/redrive with an
// optional JSON body {"sourceQueue": "...", "maxMessages": N}.
func (s *Server) handleAdminDLQRedrive(w http.ResponseWriter, r *http.Request) {
	dlq := chi.URLParam(r, "queueName")

	var body struct {
		SourceQueue string `json:"sourceQueue"`
		MaxMessages int    `json:"maxMessages"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.SourceQueue == "" {
		writeJSONError(w, http.StatusBadRequest, "sourceQueue is required")
		return
	}

	count, err := s.engine.RedriveDLQMessages(r.Context(), dlq, body.SourceQueue, body.MaxMessages)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dlq":         dlq,
		"sourceQueue": body.SourceQueue,
		"redriven":    count,
	})
}

// handleAdminDLQPurge serves DELETE /api/dlq/{queueName}/messages.
func (s *Server) handleAdminDLQPurge(w http.ResponseWriter, r *http.Request) {
	dlq := chi.URLParam(r, "queueName")
	count, err := s.engine.PurgeDLQ(r.Context(), dlq)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dlq": dlq, "purged": count})
}
