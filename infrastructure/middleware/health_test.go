package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProcessSampleReportsMemoryAndCPU(t *testing.T) {
	sample, err := ProcessSample()
	if err != nil {
		t.Fatalf("ProcessSample() error = %v", err)
	}
	if _, ok := sample["rss_mb"]; !ok {
		t.Fatalf("expected rss_mb in sample, got %v", sample)
	}
	if _, ok := sample["cpu_percent"]; !ok {
		t.Fatalf("expected cpu_percent in sample, got %v", sample)
	}
}

func TestLivenessHandlerReportsAlive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	LivenessHandler()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got == "" {
		t.Fatalf("expected non-empty body")
	}
}
