package models

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// HistoryEntry is one prior turn sent to the generator as context. Image data is never included.
type HistoryEntry struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text,omitempty"`
}

// GenerateImageRequest is the payload accepted by POST /api/generate-image.
type GenerateImageRequest struct {
	Prompt      string         `json:"prompt"`
	History     []HistoryEntry `json:"history"`
	BaseImage   string         `json:"baseImage,omitempty"` // base64, optionally data-URI prefixed
	AspectRatio string         `json:"aspectRatio,omitempty"`
	ImageSize   string         `json:"imageSize,omitempty"`
}

type GenerateImageResponse struct {
	ImageBase64  string `json:"imageBase64"`
	AltText      string `json:"altText"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
