package geoip

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLookupResolvesPublicIP(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"city":"Berlin","country_name":"Germany"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, discardLogger())
	loc := client.Lookup(context.Background(), "93.184.216.34")

	if gotPath != "/93.184.216.34/json/" {
		t.Fatalf("unexpected request path: %q", gotPath)
	}
	if loc.City != "Berlin" || loc.Country != "Germany" {
		t.Fatalf("unexpected location: %+v", loc)
	}
}

func TestLookupSkipsPrivateAndInvalidAddresses(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, discardLogger())
	for _, ip := range []string{"", "unknown", "127.0.0.1", "10.0.0.5", "192.168.1.1", "not-an-ip", "0.0.0.0", "::1"} {
		loc := client.Lookup(context.Background(), ip)
		if loc.City != Unknown || loc.Country != Unknown {
			t.Fatalf("expected unknown location for %q, got %+v", ip, loc)
		}
	}
	if called {
		t.Fatal("provider should not be contacted for non-public addresses")
	}
}

func TestLookupTimeoutFallsBackToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"city":"Ghent","country_name":"Belgium"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, 20*time.Millisecond, discardLogger())
	loc := client.Lookup(context.Background(), "93.184.216.34")

	if loc.City != Unknown || loc.Country != Unknown {
		t.Fatalf("expected unknown location on timeout, got %+v", loc)
	}
}

func TestLookupNon200FallsBackToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, discardLogger())
	loc := client.Lookup(context.Background(), "93.184.216.34")

	if loc.City != Unknown || loc.Country != Unknown {
		t.Fatalf("expected unknown location on provider error, got %+v", loc)
	}
}

func TestLookupFillsEmptyFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"city":"","country_name":"Germany"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, discardLogger())
	loc := client.Lookup(context.Background(), "93.184.216.34")

	if loc.City != Unknown || loc.Country != "Germany" {
		t.Fatalf("unexpected location: %+v", loc)
	}
}
