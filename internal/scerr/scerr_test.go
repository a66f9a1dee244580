package scerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("/tmp/x", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty message")
	}
}

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{IO("/a", nil), true},
		{Connection("host", nil), true},
		{New(KindRemoteTransfer, "", nil), true},
		{New(KindTimeout, "", nil), true},
		{New(KindPermissionDenied, "/a", nil), false},
		{New(KindCancelled, "", nil), false},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := IsRecoverable(c.err); got != c.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestIsPermissionError(t *testing.T) {
	if !IsPermissionError(New(KindPermissionDenied, "/a", nil)) {
		t.Fatal("expected permission error")
	}
	if IsPermissionError(New(KindIO, "/a", nil)) {
		t.Fatal("expected non-permission error")
	}
}

func TestCollect(t *testing.T) {
	if Collect(nil) != nil {
		t.Fatal("expected nil for empty slice")
	}
	single := errors.New("one")
	if got := Collect([]error{single}); got != single {
		t.Fatalf("expected single error passed through unwrapped, got %v", got)
	}

	many := []error{errors.New("a"), errors.New("b")}
	got := Collect(many)
	var m *Multiple
	if !errors.As(got, &m) {
		t.Fatalf("expected *Multiple, got %T", got)
	}
	if len(m.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(m.Errors))
	}
}

func TestWithContext(t *testing.T) {
	base := IO("/a", errors.New("boom"))
	wrapped := WithContext("copying file", base)
	var se *Error
	if !errors.As(wrapped, &se) {
		t.Fatalf("expected *Error, got %T", wrapped)
	}
	if se.Context != "copying file" {
		t.Fatalf("expected context preserved, got %q", se.Context)
	}

	plain := fmt.Errorf("oops")
	wrapped2 := WithContext("doing thing", plain)
	if wrapped2.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindNotFound, "/x", nil)
	b := New(KindNotFound, "/y", errors.New("different cause"))
	if !errors.Is(a, b) {
		t.Fatal("expected same-kind errors to match via errors.Is")
	}
	c := New(KindIO, "/x", nil)
	if errors.Is(a, c) {
		t.Fatal("expected different-kind errors not to match")
	}
}
