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

package sanitize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizer_Text(t *testing.T) {
	s := New()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "ssn",
			input: "my ssn is 123-45-6789 ok",
			want:  "my ssn is [REDACTED_SSN] ok",
		},
		{
			name:  "email",
			input: "mail John.Smith@Example.com now",
			want:  "mail [REDACTED_EMAIL] now",
		},
		{
			name:  "phone",
			input: "call 614.555.0100 or 6145550101",
			want:  "call [REDACTED_PHONE] or [REDACTED_PHONE]",
		},
		{
			name:  "address",
			input: "I live at 42 Elm Street in Columbus",
			want:  "I live at [REDACTED_ADDRESS] in Columbus",
		},
		{
			name:  "nothing to redact",
			input: "file my Ohio 2024 taxes",
			want:  "file my Ohio 2024 taxes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.Text(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizer_TextCounts(t *testing.T) {
	_, counts := New().Text("123-45-6789 and 987-65-4321, a@b.io")
	assert.Equal(t, map[string]int{"ssn": 2, "email": 1}, counts)
}

func TestSanitizer_Context(t *testing.T) {
	var ctx map[string]any
	err := json.Unmarshal([]byte(`{
		"task_type": "tax_filing",
		"state": "ohio",
		"year": 2024,
		"name": "John Smith",
		"ssn": "123-45-6789",
		"exact_income": 87432.18,
		"salary_note": "confidential",
		"email": "john@example.com"
	}`), &ctx)
	assert.NoError(t, err)

	res := New().Sanitize("file taxes for john@example.com", ctx)

	assert.Equal(t, "file taxes for [REDACTED_EMAIL]", res.Text)
	assert.Equal(t, map[string]any{
		"task_type":    "tax_filing",
		"state":        "ohio",
		"year":         float64(2024),
		"exact_income": "80k-100k",
	}, res.Public)
	assert.Len(t, res.Private, 5)
	assert.Equal(t, []string{"email", "name", "salary_note", "ssn"}, res.Summary.FieldsRemoved)
	assert.Equal(t, []string{"exact_income"}, res.Summary.FieldsAnonymized)
	assert.Equal(t, map[string]int{"email": 1}, res.Summary.Redactions)
	assert.True(t, res.Summary.PIIProtected)
}

func TestSanitizer_NilContext(t *testing.T) {
	res := New().Sanitize("plain", nil)
	assert.Empty(t, res.Public)
	assert.Empty(t, res.Private)
	assert.Empty(t, res.Summary.FieldsRemoved)
	assert.Nil(t, res.Summary.Redactions)
}

func TestIncomeBracket(t *testing.T) {
	assert.Equal(t, "0-30k", IncomeBracket(0))
	assert.Equal(t, "30k-50k", IncomeBracket(30000))
	assert.Equal(t, "150k-250k", IncomeBracket(249999.99))
	assert.Equal(t, "250k+", IncomeBracket(250000))
	assert.Equal(t, "250k+", IncomeBracket(1e7))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey("First_Name"))
	assert.True(t, IsSensitiveKey("bank_routing"))
	assert.False(t, IsSensitiveKey("state"))
	assert.False(t, IsSensitiveKey("income_bracket"))
}
