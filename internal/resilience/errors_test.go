package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	if !IsTransient(NewTransientError(errors.New("busy"), 503)) {
		t.Error("expected transient")
	}
}

func TestIsTransient_Wrapped(t *testing.T) {
	err := fmt.Errorf("query flood: %w", NewTransientError(errors.New("busy"), 503))
	if !IsTransient(err) {
		t.Error("expected wrapped transient to be detected")
	}
}

func TestIsTransient_NilAndPlain(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
	if IsTransient(errors.New("invalid where clause")) {
		t.Error("plain error must not be transient")
	}
}

func TestIsTransient_Syscalls(t *testing.T) {
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if !IsTransient(fmt.Errorf("dial: %w", errno)) {
			t.Errorf("expected %v to be transient", errno)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	if !IsTransient(timeoutErr{}) {
		t.Error("expected timeout to be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, msg := range []string{"read tcp: connection reset by peer", "net/http: TLS handshake timeout", "unexpected EOF"} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	cases := map[int]bool{200: false, 400: false, 404: false, 408: true, 429: true, 500: true, 502: true, 503: true, 504: true}
	for code, want := range cases {
		if got := IsTransientHTTPStatus(code); got != want {
			t.Errorf("status %d: expected %v, got %v", code, want, got)
		}
	}
}

func TestStatusFailure(t *testing.T) {
	err := StatusFailure("wetlands", 500, "Error performing query operation")
	if !IsTransient(err) {
		t.Error("500 must be transient")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatal("expected StatusError in chain")
	}
	if se.Error() != "wetlands: status 500: Error performing query operation" {
		t.Errorf("unexpected message %q", se.Error())
	}

	if IsTransient(StatusFailure("wetlands", 400, "")) {
		t.Error("400 must not be transient")
	}
}
