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

package errors

import (
	"fmt"
	"time"
)

// Sentinel errors for errors.Is matching against the typed session errors.
var (
	ErrSessionNotFound = New("session not found")
	ErrSessionExpired  = New("session expired")
	ErrInvalidSolution = New("invalid solution id")
)

// ValidationError represents request or catalog validation failures.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a missing catalog item or other resource.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "catalog item")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// OracleError represents a failed decompose or score call. The planner
// recovers from these locally; they surface only in logs.
type OracleError struct {
	// Operation is "decompose" or "score"
	Operation string

	// Provider names the backing model provider, if any
	Provider string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	msg := fmt.Sprintf("oracle %s failed", e.Operation)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *OracleError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *OracleError) ErrorType() string { return "oracle" }

// IsRetryable implements ErrorClassifier.
func (e *OracleError) IsRetryable() bool { return true }

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "planner.tau_good")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// SessionNotFoundError is returned when resolve is called with an unknown session.
type SessionNotFoundError struct {
	SessionID string
}

// Error implements the error interface.
func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found; call estimate first", e.SessionID)
}

// Is matches ErrSessionNotFound.
func (e *SessionNotFoundError) Is(target error) bool { return target == ErrSessionNotFound }

// ErrorType implements ErrorClassifier.
func (e *SessionNotFoundError) ErrorType() string { return "session_not_found" }

// IsRetryable implements ErrorClassifier.
func (e *SessionNotFoundError) IsRetryable() bool { return false }

// SessionExpiredError is returned when a session existed but outlived its TTL.
type SessionExpiredError struct {
	SessionID string
	ExpiredAt time.Time
}

// Error implements the error interface.
func (e *SessionExpiredError) Error() string {
	if e.ExpiredAt.IsZero() {
		return fmt.Sprintf("session %s expired", e.SessionID)
	}
	return fmt.Sprintf("session %s expired at %s", e.SessionID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// Is matches ErrSessionExpired.
func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// ErrorType implements ErrorClassifier.
func (e *SessionExpiredError) ErrorType() string { return "session_expired" }

// IsRetryable implements ErrorClassifier.
func (e *SessionExpiredError) IsRetryable() bool { return false }

// InvalidSolutionError is returned when a solution id is absent from a session.
type InvalidSolutionError struct {
	SessionID  string
	SolutionID string
}

// Error implements the error interface.
func (e *InvalidSolutionError) Error() string {
	return fmt.Sprintf("solution %s not found in session %s", e.SolutionID, e.SessionID)
}

// Is matches ErrInvalidSolution.
func (e *InvalidSolutionError) Is(target error) bool { return target == ErrInvalidSolution }

// ErrorType implements ErrorClassifier.
func (e *InvalidSolutionError) ErrorType() string { return "invalid_solution" }

// IsRetryable implements ErrorClassifier.
func (e *InvalidSolutionError) IsRetryable() bool { return false }
