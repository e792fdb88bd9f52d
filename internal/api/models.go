package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// LimitRequest sets a site's daily limit in minutes.
type LimitRequest struct {
	Limit float64 `json:"limit"`
}

// QuoteRequest adds a block page quote.
type QuoteRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// FocusRequest reports a focus change without a WebSocket.
type FocusRequest struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
