package recognizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExchangeTokenRejectsAsFatalOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCloud("key", "wss://example.invalid", srv.URL, "eo", time.Second, 16000, nil, nil)
	_, err := c.exchangeToken(context.Background())
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("exchangeToken() error = %v, want wrapping ErrFatal", err)
	}
}

func TestExchangeTokenRejectsAsTransientOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCloud("key", "wss://example.invalid", srv.URL, "eo", time.Second, 16000, nil, nil)
	_, err := c.exchangeToken(context.Background())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("exchangeToken() error = %v, want wrapping ErrTransient", err)
	}
	if errors.Is(err, ErrFatal) {
		t.Fatalf("exchangeToken() error = %v, must not wrap ErrFatal", err)
	}
}

func TestCloudStateString(t *testing.T) {
	cases := map[cloudState]string{
		stateIdle:          "Idle",
		stateTokenExchange: "TokenExchange",
		stateConnecting:    "Connecting",
		stateStarting:      "Starting",
		stateStreaming:     "Streaming",
		stateBackoff:       "Backoff",
		stateDraining:      "Draining",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestAppendBoundedCapsAtMax(t *testing.T) {
	buf := []byte{1, 2, 3}
	buf = appendBounded(buf, []byte{4, 5, 6, 7, 8}, 4)
	if len(buf) != 4 {
		t.Fatalf("len(buf) = %d, want 4", len(buf))
	}
	want := []byte{5, 6, 7, 8}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestAppendBoundedUnderCapacity(t *testing.T) {
	buf := appendBounded(nil, []byte{1, 2}, 10)
	if len(buf) != 2 {
		t.Fatalf("len(buf) = %d, want 2", len(buf))
	}
}
