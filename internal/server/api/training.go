package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ayusman/kai/internal/training"
	"github.com/go-chi/chi/v5"
)

// TrainingHandler exposes the training panel behind the login gate.
type TrainingHandler struct {
	panel         *training.Panel
	gate          *training.Gate
	submitTimeout time.Duration
}

// NewTrainingHandler creates a TrainingHandler.
func NewTrainingHandler(panel *training.Panel, gate *training.Gate, submitTimeout time.Duration) *TrainingHandler {
	if submitTimeout <= 0 {
		submitTimeout = training.DefaultSubmitTimeout
	}
	return &TrainingHandler{panel: panel, gate: gate, submitTimeout: submitTimeout}
}

// Routes registers the handler under r.
func (h *TrainingHandler) Routes(r chi.Router) {
	r.Route("/training", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/", h.get)
			r.Post("/camera", h.startCamera)
			r.Delete("/camera", h.stopCamera)
			r.Put("/label", h.setLabel)
			r.Post("/capture", h.capture)
			r.Post("/burst", h.burst)
			r.Delete("/samples", h.clear)
			r.Post("/submit", h.submit)
		})
	})
}

// RequireSession rejects requests without a valid gate cookie.
func (h *TrainingHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Authorized(r) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Authorized reports whether r carries a valid gate session.
func (h *TrainingHandler) Authorized(r *http.Request) bool {
	c, err := r.Cookie(training.SessionCookie)
	return err == nil && h.gate.Valid(c.Value)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login handles POST /api/training/login.
func (h *TrainingHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.gate.Login(req.Username, req.Password)
	if err != nil {
		writeFailure(w, err, training.LoginErrorMessage)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     training.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(training.DefaultSessionTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// logout handles POST /api/training/logout.
func (h *TrainingHandler) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(training.SessionCookie); err == nil {
		h.gate.Logout(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: training.SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// get handles GET /api/training.
func (h *TrainingHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.panel.Status())
}

// startCamera handles POST /api/training/camera.
func (h *TrainingHandler) startCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.panel.StartCamera(r.Context()); err != nil {
		writeFailure(w, err, h.panel.Status().Message)
		return
	}
	writeJSON(w, http.StatusOK, h.panel.Status())
}

// stopCamera handles DELETE /api/training/camera.
func (h *TrainingHandler) stopCamera(w http.ResponseWriter, r *http.Request) {
	h.panel.StopCamera()
	writeJSON(w, http.StatusOK, h.panel.Status())
}

type labelRequest struct {
	Label string `json:"label"`
}

// setLabel handles PUT /api/training/label.
func (h *TrainingHandler) setLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.panel.SetLabel(req.Label); err != nil {
		writeFailure(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.panel.Status())
}

type captureResponse struct {
	Captured bool            `json:"captured"`
	Status   training.Status `json:"status"`
}

// capture handles POST /api/training/capture. A missing hand is not an error.
func (h *TrainingHandler) capture(w http.ResponseWriter, r *http.Request) {
	ok := h.panel.Capture()
	writeJSON(w, http.StatusOK, captureResponse{Captured: ok, Status: h.panel.Status()})
}

// burst handles POST /api/training/burst.
func (h *TrainingHandler) burst(w http.ResponseWriter, r *http.Request) {
	if err := h.panel.StartBurst(); err != nil {
		writeFailure(w, err, h.panel.Status().Message)
		return
	}
	writeJSON(w, http.StatusAccepted, h.panel.Status())
}

// clear handles DELETE /api/training/samples.
func (h *TrainingHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.panel.Clear(); err != nil {
		writeFailure(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.panel.Status())
}

type submitResponse struct {
	BatchID string          `json:"batchId"`
	Status  training.Status `json:"status"`
}

// submit handles POST /api/training/submit.
func (h *TrainingHandler) submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.submitTimeout)
	defer cancel()

	id, err := h.panel.Submit(ctx)
	if err != nil {
		writeFailure(w, err, h.panel.Status().Message)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{BatchID: id, Status: h.panel.Status()})
}
