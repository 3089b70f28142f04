package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLivenessAlwaysOK(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("broken", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	hc.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}
}

func TestReadinessAggregatesComponents(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("elasticsearch", func(context.Context) error { return nil })
	hc.Register("redis", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	hc.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readiness status = %d, want 200", rec.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ready" || len(body.Components) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestReadinessFailsWhenDependencyDown(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("elasticsearch", func(context.Context) error { return nil })
	hc.Register("redis", func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	hc.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness status = %d, want 503", rec.Code)
	}

	var body struct {
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Components["redis"] != "connection refused" {
		t.Errorf("components = %v", body.Components)
	}
	if body.Components["elasticsearch"] != "ok" {
		t.Errorf("healthy component misreported: %v", body.Components)
	}
}
