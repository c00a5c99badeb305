package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/djlink/prolink/internal/api/middleware"
	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/history"
	"github.com/djlink/prolink/internal/registry"
	"github.com/djlink/prolink/internal/status"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T, stopVD func()) (*Server, *registry.Registry, *status.Tracker) {
	t.Helper()
	bus := eventbus.New(nil)
	reg := registry.New(bus, nil)
	tracker := status.New(bus, 0)
	hist, err := history.Open()
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	return New(reg, tracker, hist, testJWTSecret, stopVD, nil), reg, tracker
}

func TestHandleDevicesEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleMasterNoneYet(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/master", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data masterView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.HasMaster {
		t.Fatalf("expected no master, got %+v", body.Data)
	}
}

func TestHandleHistoryEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStopVirtualDeviceRequiresAuth(t *testing.T) {
	called := false
	srv, _, _ := newTestServer(t, func() { called = true })

	req := httptest.NewRequest(http.MethodPost, "/virtual-device/stop", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Fatalf("stop callback should not have run without auth")
	}
}

func TestStopVirtualDeviceWithValidToken(t *testing.T) {
	called := false
	srv, _, _ := newTestServer(t, func() { called = true })

	token, _, err := middleware.GenerateControlToken(testJWTSecret)
	if err != nil {
		t.Fatalf("GenerateControlToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/virtual-device/stop", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !called {
		t.Fatalf("expected stop callback to run")
	}
}

func TestStopVirtualDeviceWithoutCallback(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	token, _, err := middleware.GenerateControlToken(testJWTSecret)
	if err != nil {
		t.Fatalf("GenerateControlToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/virtual-device/stop", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

