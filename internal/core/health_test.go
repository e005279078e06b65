package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeProbe struct {
	name  string
	err   error
	block bool
	panic bool
}

func (p fakeProbe) Name() string { return p.name }

func (p fakeProbe) Check(ctx context.Context) error {
	if p.panic {
		panic("probe exploded")
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		probes     []HealthProbe
		wantStatus int
		wantState  map[string]string
	}{
		{
			name:       "no probes",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all healthy",
			probes:     []HealthProbe{fakeProbe{name: "database"}, fakeProbe{name: "redis"}},
			wantStatus: http.StatusOK,
			wantState:  map[string]string{"database": "healthy", "redis": "healthy"},
		},
		{
			name:       "one failing",
			probes:     []HealthProbe{fakeProbe{name: "database"}, fakeProbe{name: "queue", err: errors.New("unreachable")}},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  map[string]string{"database": "healthy", "queue": "unhealthy"},
		},
		{
			name:       "panicking probe",
			probes:     []HealthProbe{fakeProbe{name: "redis", panic: true}},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  map[string]string{"redis": "unhealthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.HealthProbes = tt.probes

			rec := httptest.NewRecorder()
			srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for name, want := range tt.wantState {
				if got := body.Components[name].Status; got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the probe deadline")
	}
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{fakeProbe{name: "database", block: true}}

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}
