package vitals

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
)

func TestServer_StartServesVitals(t *testing.T) {
	m, err := NewMonitor(Config{Service: "checkout"})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(zerolog.Nop(), m)
	if err := srv.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() is empty after Start")
	}

	resp, err := http.Get("http://" + addr + "/vitals")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Service != "checkout" {
		t.Errorf("Service = %q, want checkout", snap.Service)
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	m, err := NewMonitor(Config{Service: "checkout"})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(zerolog.Nop(), m)
	if err := srv.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
