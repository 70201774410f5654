package reviews

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// latestLimit caps the landing-page review feed.
const latestLimit = 20

type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// HandleCreate accepts a storefront review submission.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var review Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := review.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.Create(r.Context(), &review); err != nil {
		h.logger.Error("failed to create review", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("review created", "review_id", review.ID, "rating", review.Rating)
	h.writeJSON(w, http.StatusCreated, review)
}

// HandleLatest returns the newest reviews for the landing page.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.repo.Latest(r.Context(), latestLimit)
	if err != nil {
		h.logger.Error("failed to list reviews", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
