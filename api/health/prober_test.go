package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"switchyard/api/model"
)

func address(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func fastPolicy(max int) Policy {
	return Policy{Path: "/health", Interval: time.Millisecond, MaxAttempts: max, Timeout: time.Second}
}

func TestProbeHealthyAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var seen []int
	p := fastPolicy(30)
	p.OnAttempt = func(attempt int, err error) { seen = append(seen, attempt) }

	verdict, rep, err := NewProber().Probe(context.Background(), address(srv), p)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if verdict != Healthy {
		t.Fatalf("verdict = %s, want healthy", verdict)
	}
	if rep.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rep.Attempts)
	}
	if len(seen) != 3 {
		t.Errorf("callbacks = %v", seen)
	}
}

func TestProbeExhaustsBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	verdict, rep, err := NewProber().Probe(context.Background(), address(srv), fastPolicy(4))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if verdict != Unhealthy {
		t.Fatalf("verdict = %s, want unhealthy", verdict)
	}
	if rep.Attempts != 4 || hits.Load() != 4 {
		t.Errorf("attempts = %d, hits = %d, want 4", rep.Attempts, hits.Load())
	}
	if !strings.Contains(rep.LastError, "status 500") {
		t.Errorf("last error = %q", rep.LastError)
	}
}

func TestProbeMalformedBodyCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":`))
	}))
	defer srv.Close()

	verdict, rep, err := NewProber().Probe(context.Background(), address(srv), fastPolicy(2))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if verdict != Unhealthy || rep.Attempts != 2 {
		t.Errorf("verdict = %s attempts = %d", verdict, rep.Attempts)
	}
}

func TestProbeSlowResponseCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := fastPolicy(1)
	p.Timeout = 20 * time.Millisecond
	verdict, _, err := NewProber().Probe(context.Background(), address(srv), p)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if verdict != Unhealthy {
		t.Errorf("verdict = %s, want unhealthy", verdict)
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := address(srv)
	srv.Close()

	verdict, rep, err := NewProber().Probe(context.Background(), addr, fastPolicy(2))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if verdict != Unhealthy || rep.Attempts != 2 || rep.LastError == "" {
		t.Errorf("verdict = %s rep = %+v", verdict, rep)
	}
}

func TestProbeRejectsBadPolicy(t *testing.T) {
	cases := []Policy{
		{MaxAttempts: 0, Timeout: time.Second},
		{MaxAttempts: 1, Timeout: 0},
		{MaxAttempts: 1, Timeout: time.Second, Interval: -time.Second},
	}
	for _, p := range cases {
		_, rep, err := NewProber().Probe(context.Background(), "127.0.0.1:1", p)
		if !errors.Is(err, model.ErrInvalidConfig) {
			t.Errorf("policy %+v: err = %v, want ErrInvalidConfig", p, err)
		}
		if rep.Attempts != 0 {
			t.Errorf("policy %+v: attempts = %d, want 0", p, rep.Attempts)
		}
	}
}

func TestProbeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(100)
	p.Interval = 50 * time.Millisecond
	p.OnAttempt = func(attempt int, err error) {
		if attempt == 2 {
			cancel()
		}
	}

	_, rep, err := NewProber().Probe(ctx, address(srv), p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", rep.Attempts)
	}
}

func TestProbeDeadlineDuringLastAttempt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p := fastPolicy(1)
	p.Timeout = 2 * time.Second

	verdict, rep, err := NewProber().Probe(ctx, address(srv), p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if verdict != Unhealthy || rep.Attempts != 1 {
		t.Errorf("verdict = %v attempts = %d", verdict, rep.Attempts)
	}
}

func TestHealthyBody(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"status":"ok"}`, true},
		{`{"status":"UP"}`, true},
		{`{"status":"passing","checks":[]}`, true},
		{"healthy\n", true},
		{"OK", true},
		{`{"status":"degraded"}`, false},
		{`{"state":"ok"}`, false},
		{`{"status":`, false},
		{"", false},
		{"<html>ok</html>", false},
	}
	for _, tt := range tests {
		if got := HealthyBody([]byte(tt.body)); got != tt.want {
			t.Errorf("HealthyBody(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
