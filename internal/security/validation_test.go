package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		max     int
		wantErr error
	}{
		{name: "within limit", text: "hello", max: 10},
		{name: "at limit", text: strings.Repeat("a", 10), max: 10},
		{name: "over limit", text: strings.Repeat("a", 11), max: 10, wantErr: ErrMessageTooLarge},
		{name: "zero max uses default", text: "hello", max: 0},
		{name: "invalid utf8", text: "bad \xff byte", max: 100, wantErr: ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateMessage(tt.text, tt.max); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		max     int
		wantErr error
	}{
		{name: "flat object", data: `{"message":"hi"}`, max: 2},
		{name: "at limit", data: `{"a":{"b":1}}`, max: 2},
		{name: "over limit", data: `{"a":{"b":{"c":1}}}`, max: 2, wantErr: ErrJSONTooDeep},
		{name: "arrays count", data: `[[[1]]]`, max: 2, wantErr: ErrJSONTooDeep},
		{name: "invalid", data: `{"a":`, max: 2, wantErr: ErrInvalidJSON},
		{name: "unclosed array", data: `{"subreddits":["golang"`, max: 2, wantErr: ErrInvalidJSON},
		{name: "unclosed object", data: `{"query":"go"`, max: 2, wantErr: ErrInvalidJSON},
		{name: "empty", data: ``, max: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateJSONDepth([]byte(tt.data), tt.max); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJSONDepth(%s) = %v, want %v", tt.data, err, tt.wantErr)
			}
		})
	}
}
