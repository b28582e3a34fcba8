package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestOutbound_IncludesPreambleTaskAndRules(t *testing.T) {
	out := Outbound("  Book a table for two at 7pm.\x00  ")
	if !strings.HasPrefix(out, safetyPreamble) {
		t.Fatalf("expected safety preamble first")
	}
	if !strings.Contains(out, "Book a table for two at 7pm.") {
		t.Fatalf("expected task text")
	}
	if strings.Contains(out, "\x00") {
		t.Fatalf("expected NUL bytes stripped")
	}
	if !strings.Contains(out, "do not speak until the other party has spoken") {
		t.Fatalf("expected listen-first rule")
	}
}

func TestOutbound_EmptyTaskFallsBack(t *testing.T) {
	out := Outbound(" \x00 ")
	if !strings.Contains(out, defaultTask) {
		t.Fatalf("expected default task")
	}
}

func TestOutbound_TruncatesTask(t *testing.T) {
	long := strings.Repeat("é", MaxTaskChars+500)
	out := Outbound(long)
	if !strings.Contains(out, TruncationMarker) {
		t.Fatalf("expected truncation marker")
	}
	if !utf8.ValidString(out) {
		t.Fatalf("expected valid utf8 after truncation")
	}
	if utf8.RuneCountInString(out) > MaxInstructionsChars {
		t.Fatalf("expected output capped")
	}
}

func TestInbound_DefaultPersona(t *testing.T) {
	out := Inbound("")
	if !strings.HasPrefix(out, safetyPreamble) || !strings.Contains(out, DefaultInboundPersona) {
		t.Fatalf("expected preamble and default persona")
	}
	custom := Inbound("You are the front desk of Acme Dental.")
	if !strings.Contains(custom, "Acme Dental") || strings.Contains(custom, DefaultInboundPersona) {
		t.Fatalf("expected operator persona to replace the default")
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("abc", 10); got != "abc" {
		t.Fatalf("expected untouched, got %q", got)
	}
	got := Sanitize(strings.Repeat("x", 100), 40)
	if utf8.RuneCountInString(got) > 40 || !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("unexpected truncation %q", got)
	}
}
