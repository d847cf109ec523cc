package caption

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitIsNoOpWhenDisabled(t *testing.T) {
	p := New("", time.Millisecond, nil, nil)
	p.Start(t.Context())
	defer p.Stop()
	p.Submit("hello") // must not panic or block
}

func TestPosterDeliversAndAdvancesSeq(t *testing.T) {
	var seqs []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seqs = append(seqs, r.URL.Query().Get("seq"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Millisecond, nil, nil)
	p.Start(t.Context())
	p.Submit("unua")
	time.Sleep(20 * time.Millisecond)
	p.Submit("dua")
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	mu.Lock()
	got := append([]string(nil), seqs...)
	mu.Unlock()

	if len(got) < 2 {
		t.Fatalf("expected at least 2 posts, got %v", got)
	}
	if got[0] != "1" || got[1] != "2" {
		t.Errorf("seqs = %v, want [1 2 ...]", got)
	}
}

func TestPosterDropsAfterFiveFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Millisecond, nil, nil)
	p.Start(t.Context())
	p.Submit("fails forever")

	// Backoff between attempts is 1s, 2s, 4s, 8s: the fifth attempt lands
	// about 15s after the first.
	deadline := time.Now().Add(20 * time.Second)
	for attempts.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if got := attempts.Load(); got < 5 {
		t.Fatalf("attempts = %d, want >= 5 before dropping", got)
	}
}
