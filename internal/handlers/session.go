package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio-backend/internal/models"
	"studio-backend/internal/studio"
)

type SessionHandler struct {
	sessions *studio.SessionManager
}

func NewSessionHandler(sessions *studio.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) *studio.Session {
	s := h.sessions.Get(chi.URLParam(r, "id"))
	if s == nil {
		writeJSON(w, http.StatusNotFound, errorResp("Session not found.", nil))
	}
	return s
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// SubmitPrompt blocks until the generation finishes. A second submit while
// one is pending gets 409 and is dropped.
func (h *SessionHandler) SubmitPrompt(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req models.SubmitPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid JSON payload.", err.Error()))
		return
	}

	_, err := s.Submit(r.Context(), req.Prompt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.Snapshot())
	case errors.Is(err, studio.ErrEmptyPrompt):
		writeJSON(w, http.StatusBadRequest, errorResp("Prompt is required.", nil))
	case errors.Is(err, studio.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResp("A generation is already in progress.", nil))
	default:
		writeJSON(w, statusForError(err), errorResp(s.Err(), s.Snapshot()))
	}
}

func (h *SessionHandler) SelectImage(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req models.SelectImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid JSON payload.", err.Error()))
		return
	}

	if err := s.SelectImage(req.ImageID); err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("Image not found.", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) UploadSeed(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req models.UploadSeedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid JSON payload.", err.Error()))
		return
	}

	if err := s.UploadSeed(req.ImageBase64); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Image data is required.", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) ClearSeed(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.ClearSeed()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var req models.SessionSettings
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid JSON payload.", err.Error()))
		return
	}

	settings := studio.Settings{AspectRatio: req.AspectRatio, ImageSize: req.ImageSize}
	if err := s.SetSettings(settings); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Unsupported aspect ratio or image size.", map[string][]string{
			"aspectRatios": studio.AspectRatios,
			"imageSizes":   studio.ImageSizes,
		}))
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, s.Snapshot())
}
