package api

import (
	"net/http"

	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/progress"
	"github.com/go-chi/chi/v5"
)

// VowelsHandler serves the vowel catalog.
type VowelsHandler struct {
	progress *progress.Store
}

// NewVowelsHandler creates a VowelsHandler. A nil store omits progress.
func NewVowelsHandler(p *progress.Store) *VowelsHandler {
	return &VowelsHandler{progress: p}
}

// Routes registers the handler under r.
func (h *VowelsHandler) Routes(r chi.Router) {
	r.Get("/vowels", h.list)
}

type vowelResponse struct {
	Vowel       string                  `json:"vowel"`
	Description string                  `json:"description"`
	Progress    *progress.VowelProgress `json:"progress,omitempty"`
	Completed   bool                    `json:"completed"`
}

type listVowelsResponse struct {
	Vowels []vowelResponse `json:"vowels"`
}

// list handles GET /api/vowels.
func (h *VowelsHandler) list(w http.ResponseWriter, r *http.Request) {
	var data map[string]progress.VowelProgress
	if h.progress != nil {
		var err error
		if data, err = h.progress.Progress(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	resp := listVowelsResponse{Vowels: make([]vowelResponse, 0, len(classifier.Vowels))}
	for _, v := range classifier.Vowels {
		vr := vowelResponse{Vowel: v.Letter, Description: v.Description}
		if vp, ok := data[v.Letter]; ok {
			vr.Progress = &vp
			vr.Completed = progress.Completed(vp)
		}
		resp.Vowels = append(resp.Vowels, vr)
	}
	writeJSON(w, http.StatusOK, resp)
}
