package api

import (
	"net/http"

	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/progress"
	"github.com/go-chi/chi/v5"
)

// ProgressHandler serves the progress summary.
type ProgressHandler struct {
	store *progress.Store
}

// NewProgressHandler creates a ProgressHandler backed by s.
func NewProgressHandler(s *progress.Store) *ProgressHandler {
	return &ProgressHandler{store: s}
}

// Routes registers the handler under r.
func (h *ProgressHandler) Routes(r chi.Router) {
	r.Get("/progress", h.get)
	r.Delete("/progress", h.reset)
}

func catalog() []string {
	letters := make([]string, len(classifier.Vowels))
	for i, v := range classifier.Vowels {
		letters[i] = v.Letter
	}
	return letters
}

// get handles GET /api/progress.
func (h *ProgressHandler) get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(catalog())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// reset handles DELETE /api/progress.
func (h *ProgressHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.get(w, r)
}
