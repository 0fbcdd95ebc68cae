package invoke_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JaimeStill/meridian/pkg/invoke"
)

func newClient(t *testing.T, url string) *invoke.Client {
	t.Helper()
	cfg := &invoke.Config{BaseURL: url, Timeout: "2s", RequestsPerSecond: 1000, Burst: 10}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	c, err := invoke.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestDoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type: got %q", ct)
		}
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"], "path": r.URL.Path})
	}))
	defer srv.Close()

	var out map[string]string
	err := newClient(t, srv.URL+"/").Do(context.Background(), http.MethodPost, "/v1/run", map[string]string{"msg": "hi"}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if out["echo"] != "hi" {
		t.Errorf("echo: got %q, want hi", out["echo"])
	}
	if out["path"] != "/v1/run" {
		t.Errorf("path: got %q, want /v1/run", out["path"])
	}
}

func TestDoClassifiesStatus(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusConflict, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			err := newClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/", nil, nil)

			var se *invoke.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err: got %v, want *StatusError", err)
			}
			if se.Code != tt.code {
				t.Errorf("code: got %d, want %d", se.Code, tt.code)
			}
			if invoke.IsTransient(err) != tt.transient {
				t.Errorf("transient: got %v, want %v", invoke.IsTransient(err), tt.transient)
			}
			if !tt.transient && !errors.Is(err, invoke.ErrPermanent) {
				t.Errorf("err: got %v, want permanent", err)
			}
		})
	}
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newClient(t, url).Do(context.Background(), http.MethodGet, "/", nil, nil)
	if !invoke.IsTransient(err) {
		t.Errorf("err: got %v, want transient", err)
	}
}

func TestDoUndecodableIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := newClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/", nil, &out)
	if !errors.Is(err, invoke.ErrPermanent) {
		t.Errorf("err: got %v, want permanent", err)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	if err := c.Do(context.Background(), http.MethodGet, "/", nil, nil); !invoke.IsTransient(err) {
		t.Fatalf("first call: got %v, want transient", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Do(ctx, http.MethodGet, "/", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second call: got %v, want deadline exceeded while throttled", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestConfigFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     invoke.Config
		wantErr bool
	}{
		{"valid", invoke.Config{BaseURL: "http://driver:8080"}, false},
		{"missing base url", invoke.Config{}, true},
		{"relative base url", invoke.Config{BaseURL: "driver"}, true},
		{"bad timeout", invoke.Config{BaseURL: "http://driver", Timeout: "soon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("err: got %v, want error %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("TEST_INVOKE_BASE_URL", "http://override:9000")
	t.Setenv("TEST_INVOKE_BURST", "4")

	cfg := invoke.Config{BaseURL: "http://original"}
	env := &invoke.Env{BaseURL: "TEST_INVOKE_BASE_URL", Burst: "TEST_INVOKE_BURST"}

	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.BaseURL != "http://override:9000" {
		t.Errorf("base_url: got %q", cfg.BaseURL)
	}
	if cfg.Burst != 4 {
		t.Errorf("burst: got %d, want 4", cfg.Burst)
	}
	if cfg.TimeoutDuration() != 30*time.Second {
		t.Errorf("timeout: got %v, want 30s", cfg.TimeoutDuration())
	}
}
