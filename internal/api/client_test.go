package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MATXBY/m4brew/internal/job"
)

func TestNewClientNormalisesBind(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080":      "http://127.0.0.1:8080",
		"0.0.0.0:9000":        "http://127.0.0.1:9000",
		":8080":               "http://127.0.0.1:8080",
		"https://books.local": "https://books.local",
	}
	for bind, want := range tests {
		c, err := NewClient(bind, "")
		if err != nil {
			t.Fatalf("NewClient(%q): %v", bind, err)
		}
		if got := c.base.String(); got != want {
			t.Fatalf("NewClient(%q) base = %q, want %q", bind, got, want)
		}
	}
	if _, err := NewClient("", ""); err == nil {
		t.Fatal("expected error for empty bind")
	}
}

func TestClientStartJobDecodesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req StartJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode != "convert" {
			t.Errorf("unexpected request %+v err %v", req, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "job rejected", Code: job.CodeAlreadyRunning, Detail: "a job is already running"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.StartJob(context.Background(), StartJobRequest{Mode: "convert"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if Code(err) != job.CodeAlreadyRunning {
		t.Fatalf("code = %q", Code(err))
	}
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Job(context.Background()); !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}
