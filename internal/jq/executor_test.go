package jq

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSelector_Select(t *testing.T) {
	doc := map[string]any{
		"workflows": []any{
			map[string]any{"workflow_id": "a", "task_type": "filing"},
			map[string]any{"workflow_id": "b", "task_type": "computation"},
		},
	}

	tests := []struct {
		name       string
		expression string
		data       any
		want       []any
	}{
		{
			name:       "identity",
			expression: ".",
			data:       map[string]any{"foo": "bar"},
			want:       []any{map[string]any{"foo": "bar"}},
		},
		{
			name:       "streams every element",
			expression: ".workflows[] | .workflow_id",
			data:       doc,
			want:       []any{"a", "b"},
		},
		{
			name:       "renames fields",
			expression: `.workflows[] | {id: .workflow_id, category: .task_type}`,
			data:       doc,
			want: []any{
				map[string]any{"id": "a", "category": "filing"},
				map[string]any{"id": "b", "category": "computation"},
			},
		},
		{
			name:       "empty output",
			expression: "empty",
			data:       doc,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Compile(tt.expression, 0, 0)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := sel.Select(context.Background(), tt.data)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile(".[", 0, 0); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Compile("undefined_fn(1)", 0, 0); err == nil {
		t.Error("expected compile error")
	}
}

func TestSelector_RuntimeError(t *testing.T) {
	sel, err := Compile(".items[]", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sel.Select(context.Background(), map[string]any{"items": "not an array"})
	if err == nil {
		t.Fatal("expected runtime error")
	}
}

func TestSelector_InputTooLarge(t *testing.T) {
	sel, err := Compile(".", time.Second, 8)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sel.Select(context.Background(), map[string]any{"key": "a long value"})
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("expected size error, got %v", err)
	}
}
