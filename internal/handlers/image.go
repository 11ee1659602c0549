package handlers

import (
	"context"
	"net/http"
	"strings"

	"studio-backend/internal/models"
	"studio-backend/internal/services"
)

type imageGenerator interface {
	Ready() error
	Generate(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error)
}

type ImageHandler struct {
	images imageGenerator
}

func NewImageHandler(images imageGenerator) *ImageHandler {
	return &ImageHandler{images: images}
}

// Generate serves POST /api/generate-image. The credential check runs before
// the body is read so a misconfigured server answers 500 for any payload.
func (h *ImageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if err := h.images.Ready(); err != nil {
		handleServiceError(w, err)
		return
	}

	var req models.GenerateImageRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, &services.ValidationError{Message: "Invalid JSON payload.", Details: err.Error()})
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		handleServiceError(w, &services.ValidationError{Message: "Prompt is required."})
		return
	}

	resp, err := h.images.Generate(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
