package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"studio-backend/internal/models"
)

const (
	GenerateImagePath = "/api/generate-image"

	fallbackErrorMessage = "Failed to generate image."
)

// ProxyError is the single user-facing message a failed proxy call collapses to.
type ProxyError struct {
	Status  int
	Message string
}

func (e *ProxyError) Error() string { return e.Message }

// ProxyClient calls a remote generate-image endpoint. It satisfies studio.Generator.
type ProxyClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewProxyClient(baseURL string, httpClient *http.Client) *ProxyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ProxyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *ProxyClient) Generate(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+GenerateImagePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProxyError{Message: fallbackErrorMessage}
	}
	defer resp.Body.Close()

	// Decode into a union of both shapes; which one applies depends on the status.
	var payload struct {
		models.GenerateImageResponse
		Error string `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(payload.Error)
		if decodeErr != nil || msg == "" {
			msg = fallbackErrorMessage
		}
		return nil, &ProxyError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &ProxyError{Status: resp.StatusCode, Message: fallbackErrorMessage}
	}

	out := payload.GenerateImageResponse
	return &out, nil
}

// IsProxyError reports whether err came back from the proxy rather than the caller's context.
func IsProxyError(err error) bool {
	var pErr *ProxyError
	return errors.As(err, &pErr)
}
