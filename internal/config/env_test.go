package config

import (
	"testing"
	"time"
)

func TestTypedGetters(t *testing.T) {
	t.Setenv("CAPTURE_TEST_STRING", "  input.tsv ")
	t.Setenv("CAPTURE_TEST_INT", "3")
	t.Setenv("CAPTURE_TEST_BAD_INT", "three")
	t.Setenv("CAPTURE_TEST_FLOAT", "12.5")
	t.Setenv("CAPTURE_TEST_DURATION", "250ms")
	t.Setenv("CAPTURE_TEST_MILLIS", "1500")
	t.Setenv("CAPTURE_TEST_BOOL", "yes")

	if got := String("CAPTURE_TEST_STRING", "x"); got != "input.tsv" {
		t.Fatalf("String mismatch, got %q", got)
	}
	if got := String("CAPTURE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String fallback mismatch, got %q", got)
	}
	if got := Int("CAPTURE_TEST_INT", 1); got != 3 {
		t.Fatalf("Int mismatch, got %d", got)
	}
	if got := Int("CAPTURE_TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("Int fallback mismatch, got %d", got)
	}
	if got := Float("CAPTURE_TEST_FLOAT", 0); got != 12.5 {
		t.Fatalf("Float mismatch, got %v", got)
	}
	if got := Duration("CAPTURE_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Fatalf("Duration mismatch, got %s", got)
	}
	if got := Duration("CAPTURE_TEST_MILLIS", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("Duration millis mismatch, got %s", got)
	}
	if got := Bool("CAPTURE_TEST_BOOL", false); !got {
		t.Fatalf("Bool mismatch")
	}
}
