package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"studio-backend/internal/config"
	"studio-backend/internal/models"
	"studio-backend/pkg/logger"
)

// ImageService turns a GenerateImageRequest into one generateContent call and
// normalizes the answer. It holds no per-request state.
type ImageService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewImageService(apiKey, model, baseURL string, httpClient *http.Client, log *slog.Logger) *ImageService {
	if model == "" {
		model = config.DefaultImageModel
	}
	if baseURL == "" {
		baseURL = config.DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ImageService{
		apiKey:     apiKey,
		model:      normalizeModel(model),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log,
	}
}

// Ready reports whether generation can be attempted at all.
func (s *ImageService) Ready() error {
	if s.apiKey == "" {
		return &ConfigError{Message: config.ErrMissingAPIKey.Error()}
	}
	return nil
}

func (s *ImageService) endpoint() string {
	return fmt.Sprintf("%s/v1beta/%s:generateContent", s.baseURL, s.model)
}

// Generate validates req, calls the vendor once and returns the first inline image.
func (s *ImageService) Generate(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &ValidationError{Message: "Prompt is required."}
	}

	body, err := json.Marshal(buildGenerateContentRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode generateContent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generateContent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.Error("image generation request failed",
			slog.String("model", s.model),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("Google image API request failed: %w", err)
	}
	defer resp.Body.Close()

	s.logger.Info("image generation response",
		slog.String("model", s.model),
		slog.Int("status", resp.StatusCode),
		slog.Bool("base_image", req.BaseImage != ""),
		slog.Int("history_len", len(req.History)),
		slog.Duration("duration", time.Since(start)),
	)

	if err := googleapi.CheckResponse(resp); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			// gerr.Code may come from the JSON body; the HTTP status is what gets passed through.
			return nil, &UpstreamError{Status: resp.StatusCode, Details: decodeDetails([]byte(gerr.Body))}
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Details: err.Error()}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generateContent response: %w", err)
	}

	return extractImage(raw, req.Prompt)
}

// extractImage picks the first inline-data part of the first candidate. The
// caption is the first part carrying a string text field, even an empty one.
// The body is walked loosely: fields of an unexpected type count as absent.
func extractImage(raw []byte, prompt string) (*models.GenerateImageResponse, error) {
	if !json.Valid(raw) {
		return nil, &ContractError{Details: string(raw)}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ContractError{Details: json.RawMessage(raw)}
	}

	parts := firstCandidateParts(doc)

	var data string
	for _, p := range parts {
		inline, _ := p["inlineData"].(map[string]interface{})
		if d, _ := inline["data"].(string); d != "" {
			data = d
			break
		}
	}
	if data == "" {
		return nil, &ContractError{Details: json.RawMessage(raw)}
	}

	altText := "AI generated artwork inspired by: " + prompt
	for _, p := range parts {
		if text, ok := p["text"].(string); ok {
			altText = text
			break
		}
	}

	modelVersion, _ := doc["modelVersion"].(string)

	return &models.GenerateImageResponse{
		ImageBase64:  data,
		AltText:      altText,
		ModelVersion: modelVersion,
	}, nil
}

func firstCandidateParts(doc map[string]interface{}) []map[string]interface{} {
	candidates, _ := doc["candidates"].([]interface{})
	if len(candidates) == 0 {
		return nil
	}
	candidate, _ := candidates[0].(map[string]interface{})
	content, _ := candidate["content"].(map[string]interface{})
	rawParts, _ := content["parts"].([]interface{})

	parts := make([]map[string]interface{}, 0, len(rawParts))
	for _, rp := range rawParts {
		if p, ok := rp.(map[string]interface{}); ok {
			parts = append(parts, p)
		}
	}
	return parts
}

// decodeDetails keeps a JSON error body structured and falls back to the raw text.
func decodeDetails(body []byte) interface{} {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
