package services

import (
	"regexp"
	"strings"

	"studio-backend/internal/models"
)

const (
	baseImageMIMEType   = "image/png"
	responseMIMEType    = "image/png"
	responseModalityImg = "IMAGE"
)

var dataURIPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// Wire types for models/{model}:generateContent. Text is a pointer so a
// response part with an empty caption is distinguishable from one without text.
type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       *string     `json:"text,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType   string       `json:"responseMimeType"`
	ResponseModalities []string     `json:"responseModalities"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}


// StripDataURI removes a leading "data:image/<type>;base64," so only the payload is sent.
func StripDataURI(image string) string {
	return dataURIPrefix.ReplaceAllString(image, "")
}

// FlattenHistory renders prior turns as "User: ..." / "Assistant: ..." lines.
// Entries without text are skipped.
func FlattenHistory(history []models.HistoryEntry) string {
	lines := make([]string, 0, len(history))
	for _, h := range history {
		if h.Text == "" {
			continue
		}
		speaker := "User"
		if h.Role == models.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+h.Text)
	}
	return strings.Join(lines, "\n")
}

// CombinePrompt appends the latest request to the flattened history.
func CombinePrompt(history []models.HistoryEntry, prompt string) string {
	contextText := FlattenHistory(history)
	if contextText == "" {
		return prompt
	}
	return contextText + "\nUser (latest request): " + prompt
}

func buildGenerateContentRequest(req models.GenerateImageRequest) generateContentRequest {
	parts := make([]part, 0, 2)

	if req.BaseImage != "" {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: baseImageMIMEType,
			Data:     StripDataURI(req.BaseImage),
		}})
	}

	text := CombinePrompt(req.History, req.Prompt)
	parts = append(parts, part{Text: &text})

	cfg := generationConfig{
		ResponseMimeType:   responseMIMEType,
		ResponseModalities: []string{responseModalityImg},
	}
	// imageConfig is omitted entirely unless a hint was given.
	if req.AspectRatio != "" || req.ImageSize != "" {
		cfg.ImageConfig = &imageConfig{
			AspectRatio: req.AspectRatio,
			ImageSize:   req.ImageSize,
		}
	}

	return generateContentRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: cfg,
	}
}

// normalizeModel turns "imagen-3.0-generate" into "models/imagen-3.0-generate".
func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
