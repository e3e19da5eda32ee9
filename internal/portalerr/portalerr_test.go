package portalerr

import (
	"errors"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Protocol, 1},
		{PairingTimeout, 1},
		{PakeMismatch, 2},
		{ConfirmationMismatch, 2},
		{AeadFailure, 2},
		{NonceExhaustion, 2},
		{Io, 3},
		{PathUnsafe, 3},
		{PeerDeclined, 4},
	}
	for _, tc := range tests {
		if got := tc.kind.ExitCode(); got != tc.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestError_UnwrapAndFormat(t *testing.T) {
	cause := errors.New("boom")
	err := New(AeadFailure, cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is did not find wrapped cause")
	}
	if err.Error() != "aead_failure: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestError_NilCause(t *testing.T) {
	err := New(PeerDeclined, nil)
	if err.Error() != "peer_declined" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(PathUnsafe, "rejected path %q", "../etc/passwd")
	if err.Kind != PathUnsafe {
		t.Errorf("Kind = %v", err.Kind)
	}
	want := `path_unsafe: rejected path "../etc/passwd"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
