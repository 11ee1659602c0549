package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studio-backend/internal/client"
	"studio-backend/internal/models"
	"studio-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the whole body as exactly one JSON value. Trailing data after
// the value is an error, so `{"prompt":"x"} junk` is rejected.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func errorResp(message string, details interface{}) models.ErrorResponse {
	return models.ErrorResponse{Error: message, Details: details}
}

// statusForError maps a generation failure to the status the caller sees.
func statusForError(err error) int {
	var (
		cfgErr      *services.ConfigError
		validErr    *services.ValidationError
		upstreamErr *services.UpstreamError
		contractErr *services.ContractError
		proxyErr    *client.ProxyError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.As(err, &validErr):
		return http.StatusBadRequest
	case errors.As(err, &upstreamErr):
		return upstreamErr.Status
	case errors.As(err, &contractErr):
		return http.StatusBadGateway
	case errors.As(err, &proxyErr) && proxyErr.Status >= http.StatusBadRequest:
		return proxyErr.Status
	default:
		return http.StatusBadGateway
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	var (
		validErr    *services.ValidationError
		upstreamErr *services.UpstreamError
		contractErr *services.ContractError
	)
	switch {
	case errors.As(err, &validErr):
		var details interface{}
		if validErr.Details != "" {
			details = validErr.Details
		}
		writeJSON(w, status, errorResp(validErr.Message, details))
	case errors.As(err, &upstreamErr):
		writeJSON(w, status, errorResp(upstreamErr.Error(), upstreamErr.Details))
	case errors.As(err, &contractErr):
		writeJSON(w, status, errorResp(contractErr.Error(), contractErr.Details))
	case status == http.StatusBadGateway:
		writeJSON(w, status, errorResp("Image generation failed.", err.Error()))
	default:
		writeJSON(w, status, errorResp(err.Error(), nil))
	}
}
