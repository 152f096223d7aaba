package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGuardedTransport_RoundTrip_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := NewGuardedTransport("test-provider", nil, 100, 10, time.Minute)
	client := &http.Client{Transport: transport}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGuardedTransport_RoundTrip_ServerErrorCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := NewGuardedTransport("test-provider-errs", nil, 100, 10, time.Minute)
	client := &http.Client{Transport: transport}

	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected error for 500 response")
	}
}
