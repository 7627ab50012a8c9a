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
	"errors"
	"fmt"
	"io"
	"os"

	marketerrors "github.com/tombee/marketplace/pkg/errors"
)

// Exit codes for marketd commands
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitInvalidInput = 2
	ExitConfigError  = 3
	ExitCatalogError = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError wraps a configuration failure.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewCatalogError wraps a catalog load or index failure.
func NewCatalogError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCatalogError, Message: msg, Cause: cause}
}

// NewInvalidInputError wraps bad command arguments.
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *marketerrors.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitFailed
}

// HandleExitError prints err and exits with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes err and, when the chain carries one, a suggestion.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	var verr *marketerrors.ValidationError
	if errors.As(err, &verr) && verr.Suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", verr.Suggestion)
	}
}
