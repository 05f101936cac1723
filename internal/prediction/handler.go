package prediction

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"homedoc/internal/session"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type predictBody struct {
	Symptoms    string `json:"symptoms"`
	PatientName string `json:"patient_name,omitempty"`
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req predictBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Predict(r.Context(), sess.UserID, req.PatientName, req.Symptoms)
	if errors.Cause(err) == ErrEmptySymptoms {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		// Mirror the service contract: connectivity problems come back
		// as a failed result rather than a bare 5xx.
		writeJSON(w, Result{
			Success: false,
			Error:   "Failed to connect to disease prediction service. Please try again later.",
		})
		return
	}
	writeJSON(w, result)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Health(r.Context()) {
		http.Error(w, "Prediction service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	pending, err := h.svc.Pending(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "Failed to load pending predictions", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []Pending{}
	}
	writeJSON(w, pending)
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid prediction ID", http.StatusBadRequest)
		return
	}

	var rev Review
	if err := json.NewDecoder(r.Body).Decode(&rev); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.svc.Review(r.Context(), sess.UserID, id, rev); err != nil {
		if errors.Cause(err) == ErrAlreadyReviewed {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to submit review", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context())
	if err != nil {
		http.Error(w, "Failed to load statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/predict", h.Predict)
	r.Get("/predictions/pending", h.Pending)
	r.Post("/predictions/{id}/review", h.Review)
	r.Get("/predictions/statistics", h.Statistics)
}
