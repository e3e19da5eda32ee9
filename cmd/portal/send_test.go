package main

import "testing"

func TestParseRateLimit(t *testing.T) {
	got, err := parseRateLimit("", 5000)
	if err != nil {
		t.Fatalf("parseRateLimit(empty): %v", err)
	}
	if got != 5000 {
		t.Errorf("parseRateLimit(empty) = %d, want configured value 5000", got)
	}

	got, err = parseRateLimit("1MiB", 0)
	if err != nil {
		t.Fatalf("parseRateLimit(1MiB): %v", err)
	}
	if got != 1<<20 {
		t.Errorf("parseRateLimit(1MiB) = %d, want %d", got, 1<<20)
	}

	if _, err := parseRateLimit("not-a-size", 0); err == nil {
		t.Error("expected error for malformed rate limit")
	}
}

func TestResolvePassword(t *testing.T) {
	pw, generated, err := resolvePassword("correct-horse")
	if err != nil {
		t.Fatalf("resolvePassword(explicit): %v", err)
	}
	if generated {
		t.Error("expected generated=false for an explicit password")
	}
	if string(pw) != "correct-horse" {
		t.Errorf("resolvePassword(explicit) = %q, want correct-horse", pw)
	}

	pw, generated, err = resolvePassword("")
	if err != nil {
		t.Fatalf("resolvePassword(empty): %v", err)
	}
	if !generated {
		t.Error("expected generated=true when no password supplied")
	}
	if len(pw) == 0 {
		t.Error("expected a non-empty generated password")
	}
}
