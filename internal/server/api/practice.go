package api

import (
	"net/http"

	"github.com/ayusman/kai/internal/practice"
	"github.com/go-chi/chi/v5"
)

// PracticeHandler exposes the practice session controller.
type PracticeHandler struct {
	ctrl *practice.Controller
}

// NewPracticeHandler creates a PracticeHandler for ctrl.
func NewPracticeHandler(ctrl *practice.Controller) *PracticeHandler {
	return &PracticeHandler{ctrl: ctrl}
}

// Routes registers the handler under r.
func (h *PracticeHandler) Routes(r chi.Router) {
	r.Route("/practice", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/{vowel}/camera", h.startCamera)
		r.Delete("/{vowel}/camera", h.stopCamera)
		r.Post("/scan", h.startScan)
		r.Delete("/scan", h.stopScan)
	})
}

// get handles GET /api/practice.
func (h *PracticeHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// startCamera handles POST /api/practice/{vowel}/camera.
func (h *PracticeHandler) startCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StartCamera(r.Context(), chi.URLParam(r, "vowel")); err != nil {
		writeFailure(w, err, h.ctrl.Snapshot().Message)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// stopCamera handles DELETE /api/practice/{vowel}/camera.
func (h *PracticeHandler) stopCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StopCamera(); err != nil {
		writeFailure(w, err, h.ctrl.Snapshot().Message)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// startScan handles POST /api/practice/scan.
func (h *PracticeHandler) startScan(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StartScan(); err != nil {
		writeFailure(w, err, h.ctrl.Snapshot().Message)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// stopScan handles DELETE /api/practice/scan and returns the updated record.
func (h *PracticeHandler) stopScan(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ctrl.StopScan(); err != nil {
		writeFailure(w, err, h.ctrl.Snapshot().Message)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}
