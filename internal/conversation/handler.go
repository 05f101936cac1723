package conversation

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"homedoc/internal/notify"
	"homedoc/internal/session"
)

type Handler struct {
	svc    Service
	events notify.Broker
}

func NewHandler(svc Service, events notify.Broker) *Handler {
	return &Handler{svc: svc, events: events}
}

type submitRequest struct {
	Text string `json:"text"`
}

type rateRequest struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, greeting, err := h.svc.Start(r.Context(), sess.UserID)
	if err != nil {
		http.Error(w, "Failed to start conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"conversation_id": id,
		"greeting":        greeting,
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	reply, err := h.svc.Submit(r.Context(), sess.UserID, id, req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"reply": reply})
}

func (h *Handler) Done(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Done(r.Context(), sess.UserID, id)
	if err != nil && result.ID == "" {
		h.writeError(w, err)
		return
	}
	if err != nil {
		// Analysis failed: the machine reverted to collecting and the
		// error message was appended, so surface both to the caller.
		writeJSON(w, map[string]any{
			"message": result,
			"state":   StateCollecting,
			"error":   "analysis failed",
		})
		return
	}
	writeJSON(w, map[string]any{
		"message": result,
		"state":   StateComplete,
	})
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Save(r.Context(), sess.UserID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"record_id": rec.ID,
		"title":     rec.Title,
	})
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.svc.Rate(r.Context(), sess.UserID, id, req.Stars, req.Comment); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	greeting, err := h.svc.Reset(r.Context(), sess.UserID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"greeting": greeting})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := h.identify(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), sess.UserID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	records, err := h.svc.History(r.Context(), sess.UserID)
	if err != nil {
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []Record{}
	}
	writeJSON(w, records)
}

// Events streams the user's notifications over SSE. Delivery is
// at-least-once, so events already seen by id are skipped.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := make(chan notify.Event, 16)
	unsubscribe := h.events.Subscribe(UserTopic(sess.UserID), func(ev notify.Event) {
		select {
		case eventChan <- ev:
		default:
			// Slow consumer; the event will be re-fetched from history.
		}
	})
	defer unsubscribe()

	flusher.Flush()

	seen := make(map[string]struct{})
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-eventChan:
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (session.Session, uuid.UUID, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return session.Session{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return session.Session{}, uuid.Nil, false
	}
	return sess, id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case ErrEmptyInput, ErrNoSymptoms, ErrBadRating:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case ErrBusy, ErrWrongState, ErrNotSaved:
		http.Error(w, err.Error(), http.StatusConflict)
	case ErrConversationNotFound, ErrRecordNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "Internal error: "+err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/conversations", h.Start)
	r.Get("/conversations", h.History)
	r.Get("/conversations/{id}", h.Snapshot)
	r.Post("/conversations/{id}/messages", h.Submit)
	r.Post("/conversations/{id}/done", h.Done)
	r.Post("/conversations/{id}/save", h.Save)
	r.Post("/conversations/{id}/rating", h.Rate)
	r.Post("/conversations/{id}/reset", h.Reset)
	r.Get("/events", h.Events)
}
