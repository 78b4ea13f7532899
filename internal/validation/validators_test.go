package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Type   string `validate:"required,generation_type"`
	Prompt string `validate:"notblank,max=10"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     sample
		wantField string
	}{
		{name: "valid", input: sample{Type: "quiz", Prompt: "photons"}},
		{name: "unknown type", input: sample{Type: "poem", Prompt: "photons"}, wantField: "type"},
		{name: "blank prompt", input: sample{Type: "audio", Prompt: "   "}, wantField: "prompt"},
		{name: "prompt too long", input: sample{Type: "audio", Prompt: "abcdefghijk"}, wantField: "prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Struct(tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Struct() error = %v, want nil", err)
				}
				return
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("Struct() error = %v, want *Error", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	if got := SanitizeText("  hello\x00 world\n\t "); got != "hello world" {
		t.Errorf("SanitizeText() = %q", got)
	}
	if got := SanitizeText("line1\nline2"); got != "line1\nline2" {
		t.Errorf("SanitizeText() should keep inner newlines, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello", n: 3, want: "hel"},
		{in: "héllo", n: 2, want: "hé"},
		{in: "hello", n: 0, want: ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
