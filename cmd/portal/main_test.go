package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-portal/portal/internal/portalerr"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil-kind plain error", errors.New("boom"), 1},
		{"protocol", portalerr.New(portalerr.Protocol, nil), 1},
		{"pake mismatch", portalerr.New(portalerr.PakeMismatch, nil), 2},
		{"io", portalerr.New(portalerr.Io, nil), 3},
		{"peer declined", portalerr.New(portalerr.PeerDeclined, nil), 4},
		{"wrapped io", fmt.Errorf("send: %w", portalerr.New(portalerr.Io, nil)), 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCodeFor(c.err); got != c.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestUnwrapPortalErr(t *testing.T) {
	base := portalerr.New(portalerr.PathUnsafe, nil)
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", base))

	got := unwrapPortalErr(wrapped)
	if got == nil {
		t.Fatal("expected to find wrapped portalerr.Error")
	}
	if got.Kind != portalerr.PathUnsafe {
		t.Errorf("got Kind %v, want %v", got.Kind, portalerr.PathUnsafe)
	}

	if unwrapPortalErr(errors.New("plain")) != nil {
		t.Error("expected nil for an error chain with no portalerr.Error")
	}
}
