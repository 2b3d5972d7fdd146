package logx

import "testing"

func TestRedact(t *testing.T) {
	body := `{"error":"invalid_grant","error_description":"refresh token v^1.1#abc is invalid"}`
	got := Redact(body, "v^1.1#abc", "")
	want := `{"error":"invalid_grant","error_description":"refresh token [REDACTED] is invalid"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedact_NoSecrets(t *testing.T) {
	if got := Redact("plain text"); got != "plain text" {
		t.Fatalf("got %q", got)
	}
	if got := Redact("plain text", "", ""); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestRedactor_MultipleMatches(t *testing.T) {
	r := NewRedactor("AAA", "BBB")

	got := r.Redact("AAA and BBB and AAA")
	want := "[REDACTED] and [REDACTED] and [REDACTED]"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactor_NoMatchReturnsInput(t *testing.T) {
	r := NewRedactor("SECRET")
	if got := r.Redact("nothing to see"); got != "nothing to see" {
		t.Fatalf("got %q", got)
	}
}

func TestRedactor_Nil(t *testing.T) {
	var r *Redactor
	if got := r.Redact("x"); got != "x" {
		t.Fatalf("got %q", got)
	}
}
