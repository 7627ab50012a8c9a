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

package shared

import (
	"encoding/json"
	"io"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured command error.
type JSONError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Envelope wraps a command result.
type Envelope struct {
	JSONResponse
	Result any         `json:"result,omitempty"`
	Errors []JSONError `json:"errors,omitempty"`
}

// EmitJSON writes v as indented JSON.
func EmitJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// EmitResult writes a successful envelope for command.
func EmitResult(w io.Writer, command string, result any) error {
	return EmitJSON(w, Envelope{
		JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: true},
		Result:       result,
	})
}

// EmitError writes a failed envelope for command.
func EmitError(w io.Writer, command string, err error) error {
	return EmitJSON(w, Envelope{
		JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: false},
		Errors:       []JSONError{{Code: ExitCode(err), Message: err.Error()}},
	})
}
