// Package jq runs jq expressions over decoded catalog documents so that
// catalogs exported in foreign layouts can be mapped onto catalog items.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single selector run.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxInputSize is the largest document a selector will accept (32MB).
	DefaultMaxInputSize = 32 * 1024 * 1024
)

// Selector is a compiled jq expression that yields zero or more records.
type Selector struct {
	expression   string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int64
}

// Compile parses and compiles expression. A zero timeout or size selects
// the defaults.
func Compile(expression string, timeout time.Duration, maxInputSize int64) (*Selector, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}

	return &Selector{
		expression:   expression,
		code:         code,
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}, nil
}

// String returns the source expression.
func (s *Selector) String() string {
	return s.expression
}

// Select runs the selector against data and returns every output value.
// Data must be in the generic form produced by encoding/json.
func (s *Selector) Select(ctx context.Context, data any) ([]any, error) {
	if err := s.validateInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	iter := s.code.RunWithContext(execCtx, data)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				return nil, fmt.Errorf("jq execution timeout after %v", s.timeout)
			}
			return nil, fmt.Errorf("jq %q: %w", s.expression, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Selector) validateInputSize(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if int64(len(raw)) > s.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(raw), s.maxInputSize)
	}
	return nil
}
