package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeployFailedOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"attempt":{"id":"a1","outcome":"health_check_failed","reason":"slot B unhealthy"}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "tok").Deploy("v2", time.Minute)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if res == nil || res.Attempt.Outcome != "health_check_failed" {
		t.Errorf("res = %+v", res)
	}
}

func TestDeployConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"deployment in progress"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "").Deploy("v2", time.Minute)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Code != http.StatusConflict {
		t.Fatalf("err = %v", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
}

func TestWebSocketURL(t *testing.T) {
	if got := New("https://deploy.example.com/", "").WebSocketURL(); got != "wss://deploy.example.com/ws" {
		t.Errorf("url = %q", got)
	}
}
