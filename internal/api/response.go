// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tombee/marketplace/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	Suggestion string `json:"suggestion,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Type: http.StatusText(status)})
}

// WriteErr maps err to a status code and writes it. Internal errors are
// reported without detail.
func WriteErr(w http.ResponseWriter, err error) int {
	kind := errors.Classify(err)
	status := StatusFor(kind)
	resp := ErrorResponse{Error: err.Error(), Type: kind}
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		resp.Suggestion = verr.Suggestion
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	WriteJSON(w, status, resp)
	return status
}

// StatusFor returns the HTTP status for an error type.
func StatusFor(kind string) int {
	switch kind {
	case "validation", "invalid_solution":
		return http.StatusBadRequest
	case "not_found", "session_not_found":
		return http.StatusNotFound
	case "session_expired":
		return http.StatusGone
	case "oracle":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
