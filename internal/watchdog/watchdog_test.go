package watchdog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/stallscope/stallscope/pkg/vitals"
)

// fakeVitals is a controllable stand-in for a service's vitals endpoint.
type fakeVitals struct {
	mu         sync.Mutex
	responsive bool
	profilable bool
	failing    bool
}

func newFakeVitals(responsive bool) *fakeVitals {
	return &fakeVitals{responsive: responsive, profilable: true}
}

func (f *fakeVitals) setResponsive(v bool) {
	f.mu.Lock()
	f.responsive = v
	f.mu.Unlock()
}

func (f *fakeVitals) setProfilable(v bool) {
	f.mu.Lock()
	f.profilable = v
	f.mu.Unlock()
}

func (f *fakeVitals) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeVitals) serve(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		failing, responsive, profilable := f.failing, f.responsive, f.profilable
		f.mu.Unlock()

		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/vitals" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vitals.Snapshot{
			Service:    "checkout",
			PID:        os.Getpid(),
			Responsive: responsive,
			Goroutines: 8,
			Profilable: profilable,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startWatchdog(t *testing.T, services []Service) (*Watchdog, chan Event) {
	t.Helper()

	w := New(Config{PollInterval: 10 * time.Millisecond, ProbeTimeout: time.Second}, services, zerolog.Nop())
	events := make(chan Event, 32)
	w.Subscribe(func(ev Event) { events <- ev })
	t.Cleanup(w.Stop)
	w.Start()
	return w, events
}

func waitEvent(t *testing.T, events chan Event) Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, events chan Event) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func waitForState(t *testing.T, w *Watchdog, service string, want State) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		for _, st := range w.Status() {
			if st.Service == service && st.State == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("service %s never reached state %s", service, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitUntil(t *testing.T, msg string, cond func() bool) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatchdog_EmitsOnTransitions(t *testing.T) {
	fv := newFakeVitals(true)
	srv := fv.serve(t)
	_, events := startWatchdog(t, []Service{{Name: "checkout", URL: srv.URL}})

	// A healthy service sets the baseline without an event.
	assertNoEvent(t, events)

	fv.setResponsive(false)
	ev := waitEvent(t, events)
	if ev.Service != "checkout" || ev.Responsive {
		t.Fatalf("event = %+v, want checkout unresponsive", ev)
	}

	fv.setResponsive(true)
	ev = waitEvent(t, events)
	if !ev.Responsive {
		t.Fatalf("event = %+v, want checkout responsive", ev)
	}

	// Steady state emits nothing further.
	assertNoEvent(t, events)
}

func TestWatchdog_StalledAtStartupEmits(t *testing.T) {
	fv := newFakeVitals(false)
	srv := fv.serve(t)
	_, events := startWatchdog(t, []Service{{Name: "checkout", URL: srv.URL}})

	ev := waitEvent(t, events)
	if ev.Service != "checkout" || ev.Responsive {
		t.Fatalf("event = %+v, want checkout unresponsive", ev)
	}
}

func TestWatchdog_DownIsNotAStall(t *testing.T) {
	fv := newFakeVitals(true)
	srv := fv.serve(t)
	w, events := startWatchdog(t, []Service{{Name: "checkout", URL: srv.URL}})

	waitForState(t, w, "checkout", StateResponsive)

	fv.setFailing(true)
	waitForState(t, w, "checkout", StateDown)
	assertNoEvent(t, events)

	// Coming back in the same responsive state stays quiet.
	fv.setFailing(false)
	waitForState(t, w, "checkout", StateResponsive)
	assertNoEvent(t, events)

	// A stall after the outage still fires.
	fv.setResponsive(false)
	ev := waitEvent(t, events)
	if ev.Responsive {
		t.Fatalf("event = %+v, want unresponsive", ev)
	}
}

func TestWatchdog_DownAtStartupStaysQuiet(t *testing.T) {
	w, events := startWatchdog(t, []Service{{Name: "checkout", URL: "http://127.0.0.1:1"}})

	waitForState(t, w, "checkout", StateDown)
	assertNoEvent(t, events)

	if w.Profilable("checkout") {
		t.Error("down service reported profilable")
	}
}

func TestWatchdog_UnsubscribeStopsDelivery(t *testing.T) {
	fv := newFakeVitals(true)
	srv := fv.serve(t)

	w := New(Config{PollInterval: 10 * time.Millisecond, ProbeTimeout: time.Second},
		[]Service{{Name: "checkout", URL: srv.URL}}, zerolog.Nop())
	events := make(chan Event, 32)
	unsubscribe := w.Subscribe(func(ev Event) { events <- ev })
	t.Cleanup(w.Stop)
	w.Start()

	fv.setResponsive(false)
	waitEvent(t, events)

	unsubscribe()
	fv.setResponsive(true)
	assertNoEvent(t, events)
}

func TestWatchdog_StatusAndProfilable(t *testing.T) {
	fv := newFakeVitals(true)
	srv := fv.serve(t)
	w, _ := startWatchdog(t, []Service{
		{Name: "checkout", URL: srv.URL},
		{Name: "billing", URL: "http://127.0.0.1:1"},
	})

	waitForState(t, w, "checkout", StateResponsive)
	waitForState(t, w, "billing", StateDown)

	statuses := w.Status()
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	if statuses[0].Service != "checkout" || statuses[1].Service != "billing" {
		t.Fatalf("statuses out of registration order: %+v", statuses)
	}
	if statuses[0].PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", statuses[0].PID, os.Getpid())
	}
	if !statuses[0].ProcessAlive {
		t.Error("checkout should report its process alive")
	}
	if statuses[0].RSSBytes <= 0 {
		t.Errorf("RSSBytes = %d, want positive for a live process", statuses[0].RSSBytes)
	}
	if statuses[1].Error == "" {
		t.Error("billing should carry a probe error")
	}

	if !w.Profilable("checkout") {
		t.Error("Profilable(checkout) = false, want true")
	}
	if w.Profilable("billing") {
		t.Error("Profilable(billing) = true for a down service")
	}
	if w.Profilable("nonexistent") {
		t.Error("Profilable(nonexistent) = true for an unknown service")
	}

	fv.setProfilable(false)
	waitUntil(t, "checkout still profilable after the snapshot flipped", func() bool {
		return !w.Profilable("checkout")
	})
}

func TestWatchdog_CleanShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	fv := newFakeVitals(true)
	srv := fv.serve(t)

	w := New(Config{PollInterval: 10 * time.Millisecond, ProbeTimeout: time.Second},
		[]Service{{Name: "checkout", URL: srv.URL}}, zerolog.Nop())
	w.Subscribe(func(Event) {})
	w.Start()
	waitForState(t, w, "checkout", StateResponsive)

	w.Stop()
	srv.Close()
}
