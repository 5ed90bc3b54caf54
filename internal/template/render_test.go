package template

import (
	"errors"
	"testing"

	"mailbot/internal/recipients"
)

func TestRenderSubstitution(t *testing.T) {
	t.Parallel()
	r := recipients.Recipient{Email: "jo@example.com", Name: "jo", RealName: "Jo Smith"}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{name: "name", tmpl: "Hi {name}!", want: "Hi jo!"},
		{name: "realName", tmpl: "Dear {realName}", want: "Dear Jo Smith"},
		{name: "snake alias", tmpl: "Dear {real_name}", want: "Dear Jo Smith"},
		{name: "email", tmpl: "To: {email}", want: "To: jo@example.com"},
		{name: "mixed", tmpl: "{name} <{email}>", want: "jo <jo@example.com>"},
		{name: "escaped braces", tmpl: "code {{x}} and {name}", want: "code {x} and jo"},
		{name: "no placeholders", tmpl: "plain text", want: "plain text"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, r)
			if err != nil {
				t.Fatalf("Render(%q) error: %v", tt.tmpl, err)
			}
			if got != tt.want {
				t.Fatalf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestRenderRealNameFallsBackToName(t *testing.T) {
	t.Parallel()
	r := recipients.Recipient{Email: "jo@example.com", Name: "jo"}
	got, err := Render("Dear {realName}", r)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got != "Dear jo" {
		t.Fatalf("got %q, want %q", got, "Dear jo")
	}
}

func TestRenderUnknownPlaceholder(t *testing.T) {
	t.Parallel()
	r := recipients.Recipient{Email: "jo@example.com"}
	_, err := Render("Hi {unknown}!", r)
	if err == nil {
		t.Fatal("expected error for unknown placeholder")
	}
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("error type = %T, want *RenderError", err)
	}
	if re.Placeholder != "unknown" {
		t.Fatalf("Placeholder = %q, want %q", re.Placeholder, "unknown")
	}
}

func TestRenderUnterminatedPlaceholder(t *testing.T) {
	t.Parallel()
	if _, err := Render("Hi {name", recipients.Recipient{}); err == nil {
		t.Fatal("expected error for unterminated placeholder")
	}
}
