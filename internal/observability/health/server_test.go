package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "cronbot/pkg/logx"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeSched struct{ running bool }

func (f fakeSched) Running() bool { return f.running }

func doHealthz(t *testing.T, s *Service, url string) (*http.Response, healthzResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)
	resp := rec.Result()
	defer resp.Body.Close()
	var body healthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	return resp, body
}

func TestHealthzOK(t *testing.T) {
	s := New(Config{Enabled: true}, fakePinger{}, fakeSched{running: true}, logx.Nop())
	resp, body := doHealthz(t, s, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Status != "ok" || body.DB != "ok" || body.Scheduler != "running" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHealthzDegradedDB(t *testing.T) {
	s := New(Config{Enabled: true}, fakePinger{err: errors.New("disk gone")}, fakeSched{running: true}, logx.Nop())
	resp, body := doHealthz(t, s, "/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Status != "degraded" || body.Scheduler != "running" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHealthzDegradedScheduler(t *testing.T) {
	s := New(Config{Enabled: true}, fakePinger{}, fakeSched{running: false}, logx.Nop())
	resp, body := doHealthz(t, s, "/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Scheduler != "stopped" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAuthToken(t *testing.T) {
	s := New(Config{Enabled: true, Token: "secret"}, fakePinger{}, fakeSched{running: true}, logx.Nop())
	h := s.withAuth("secret", s.handleHealthz)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=secret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=wrong", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:8090": true,
		"[::1]:8090":     true,
		"0.0.0.0:8090":   false,
		":8090":          false,
		"10.0.0.5:8090":  false,
		"not-an-addr":    false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
