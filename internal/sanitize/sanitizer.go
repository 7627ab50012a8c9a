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

// Package sanitize strips personal data from queries before they reach
// the catalog or an oracle. Free text has PII patterns replaced with
// placeholders; structured context is split into a public layer, which is
// searched, and a private layer, which stays with the caller.
package sanitize

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Pattern is a named PII pattern and its replacement.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// StandardPatterns returns the PII patterns applied to query text, in
// application order. SSNs are matched before phone numbers so the longer
// form wins.
func StandardPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "ssn",
			Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
			Replacement: "[REDACTED_EMAIL]",
		},
		{
			Name:        "phone",
			Regex:       regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
			Replacement: "[REDACTED_PHONE]",
		},
		{
			Name:        "address",
			Regex:       regexp.MustCompile(`(?i)\b\d+\s+[a-z\s]+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b`),
			Replacement: "[REDACTED_ADDRESS]",
		},
	}
}

// sensitiveKeys are substrings that mark a context key as private.
var sensitiveKeys = []string{
	"name", "ssn", "social_security", "email", "phone", "address",
	"exact_income", "salary", "account", "password", "dob",
	"birth_date", "credit_card", "bank",
}

type bracket struct {
	upper float64
	label string
}

var incomeBrackets = []bracket{
	{30000, "0-30k"},
	{50000, "30k-50k"},
	{80000, "50k-80k"},
	{100000, "80k-100k"},
	{150000, "100k-150k"},
	{250000, "150k-250k"},
}

// Summary describes what sanitization changed, for display to the caller.
type Summary struct {
	FieldsRemoved    []string       `json:"fields_removed"`
	FieldsAnonymized []string       `json:"fields_anonymized"`
	Redactions       map[string]int `json:"redactions,omitempty"`
	PIIProtected     bool           `json:"pii_protected"`
}

// Result is a sanitized query.
type Result struct {
	Text    string         `json:"query"`
	Public  map[string]any `json:"context,omitempty"`
	Private map[string]any `json:"-"`
	Summary Summary        `json:"summary"`
}

// Sanitizer applies PII patterns and context splitting. The zero value is
// not usable; use New.
type Sanitizer struct {
	patterns []Pattern
}

// New returns a sanitizer using StandardPatterns.
func New() *Sanitizer {
	return &Sanitizer{patterns: StandardPatterns()}
}

// NewWithPatterns returns a sanitizer using the given patterns.
func NewWithPatterns(patterns []Pattern) *Sanitizer {
	return &Sanitizer{patterns: patterns}
}

// Text replaces PII in s and counts replacements per pattern.
func (s *Sanitizer) Text(text string) (string, map[string]int) {
	counts := make(map[string]int)
	for _, p := range s.patterns {
		n := len(p.Regex.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		counts[p.Name] += n
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text, counts
}

// Context splits ctx into public and private layers. Sensitive income and
// salary numbers are published as brackets; other sensitive fields are
// withheld entirely.
func (s *Sanitizer) Context(ctx map[string]any) (public, private map[string]any) {
	public = make(map[string]any, len(ctx))
	private = make(map[string]any)
	for k, v := range ctx {
		if !IsSensitiveKey(k) {
			public[k] = v
			continue
		}
		private[k] = v
		if anon, ok := anonymize(k, v); ok {
			public[k] = anon
		}
	}
	return public, private
}

// Sanitize redacts the query text and splits the context.
func (s *Sanitizer) Sanitize(text string, ctx map[string]any) Result {
	clean, counts := s.Text(text)
	public, private := s.Context(ctx)

	sum := Summary{
		FieldsRemoved:    []string{},
		FieldsAnonymized: []string{},
		PIIProtected:     true,
	}
	if len(counts) > 0 {
		sum.Redactions = counts
	}
	for k := range ctx {
		if _, ok := public[k]; !ok {
			sum.FieldsRemoved = append(sum.FieldsRemoved, k)
		} else if _, isPrivate := private[k]; isPrivate {
			sum.FieldsAnonymized = append(sum.FieldsAnonymized, k)
		}
	}
	sort.Strings(sum.FieldsRemoved)
	sort.Strings(sum.FieldsAnonymized)

	return Result{Text: clean, Public: public, Private: private, Summary: sum}
}

// IsSensitiveKey reports whether a context key names personal data.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// IncomeBracket maps an income onto a coarse bracket label.
func IncomeBracket(income float64) string {
	for _, b := range incomeBrackets {
		if income < b.upper {
			return b.label
		}
	}
	return "250k+"
}

func anonymize(key string, v any) (string, bool) {
	lower := strings.ToLower(key)
	if !strings.Contains(lower, "income") && !strings.Contains(lower, "salary") {
		return "", false
	}
	n, ok := toFloat(v)
	if !ok {
		return "", false
	}
	return IncomeBracket(n), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
