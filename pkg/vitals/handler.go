package vitals

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler returns the HTTP handler exposing the vitals surface:
//
//	GET  /vitals               — liveness snapshot as JSON
//	POST /vitals/profile/start — begin a CPU capture (409 when active)
//	POST /vitals/profile/stop  — end the capture, respond with raw pprof
//
// Mount it on the application's own mux, or use Server for a standalone
// listener.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/vitals", m.handleVitals)
	mux.HandleFunc("/vitals/profile/start", m.handleProfileStart)
	mux.HandleFunc("/vitals/profile/stop", m.handleProfileStop)
	return mux
}

func (m *Monitor) handleVitals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

func (m *Monitor) handleProfileStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.profilable {
		http.Error(w, "profiling disabled", http.StatusForbidden)
		return
	}

	if err := m.profiler.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) handleProfileStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := m.profiler.Stop()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoProfile) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
