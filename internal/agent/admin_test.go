package agent

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/stallscope/stallscope/internal/config"
	"github.com/stallscope/stallscope/internal/history"
	"github.com/stallscope/stallscope/internal/stallprof"
	"github.com/stallscope/stallscope/internal/testutil"
	"github.com/stallscope/stallscope/pkg/version"
)

func startBareAgent(t *testing.T) (*Agent, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Admin.ListenAddr = "127.0.0.1:0"

	agent, err := New(cfg, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if err := agent.Start(); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	return agent, "http://" + agent.admin.Addr()
}

func seedEpisode(t *testing.T, agent *Agent, id, service string, capturedAt time.Time) {
	t.Helper()

	err := agent.history.RecordEpisode(context.Background(), history.Episode{
		ID:         id,
		Service:    service,
		CapturedAt: capturedAt,
		Duration:   6_000_000,
		TopID:      "github.com/acme/checkout/internal/db",
		TopPct:     99,
		Prompt:     true,
		Resolved:   "acme monorepo",
		Slices: []stallprof.Slice{
			{ID: "github.com/acme/checkout/internal/db", Total: 5_940_000, Percentage: 99},
			{ID: "runtime", Total: 60_000, Percentage: 1},
		},
	})
	if err != nil {
		t.Fatalf("seed episode %s: %v", id, err)
	}
}

func TestAdminServer_StatusAndHealth(t *testing.T) {
	defer goleak.VerifyNone(t)

	agent, base := startBareAgent(t)
	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK\n" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	var st StatusReport
	if code := adminGet(t, client, base+"/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if st.Version != version.Version {
		t.Errorf("status version = %q, want %q", st.Version, version.Version)
	}
	if len(st.Services) != 0 || st.ActiveSessions != 0 || st.EpisodeCount != 0 {
		t.Errorf("unexpected status for idle agent: %+v", st)
	}

	resp, err = client.Post(base+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", resp.StatusCode)
	}

	agent.Stop()
}

func TestAdminServer_Episodes(t *testing.T) {
	defer goleak.VerifyNone(t)

	agent, base := startBareAgent(t)
	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	now := time.Now()
	seedEpisode(t, agent, "ep-old", "checkout", now.Add(-time.Hour))
	seedEpisode(t, agent, "ep-new", "billing", now)

	var episodes []history.Episode
	if code := adminGet(t, client, base+"/episodes", &episodes); code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	if len(episodes) != 2 || episodes[0].ID != "ep-new" || episodes[1].ID != "ep-old" {
		t.Fatalf("list = %+v, want ep-new then ep-old", episodes)
	}

	episodes = nil
	adminGet(t, client, base+"/episodes?service=checkout", &episodes)
	if len(episodes) != 1 || episodes[0].ID != "ep-old" {
		t.Errorf("service filter = %+v", episodes)
	}

	episodes = nil
	adminGet(t, client, base+"/episodes?limit=1", &episodes)
	if len(episodes) != 1 {
		t.Errorf("limit = %d episodes, want 1", len(episodes))
	}

	if code := adminGet(t, client, base+"/episodes?limit=nope", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d, want 400", code)
	}

	var detail history.Episode
	if code := adminGet(t, client, base+"/episodes/ep-new", &detail); code != http.StatusOK {
		t.Fatalf("detail code = %d", code)
	}
	if detail.ID != "ep-new" || len(detail.Slices) != 2 {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Resolved != "acme monorepo" {
		t.Errorf("detail resolved = %q", detail.Resolved)
	}

	if code := adminGet(t, client, base+"/episodes/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing episode code = %d, want 404", code)
	}
	if code := adminGet(t, client, base+"/episodes/", nil); code != http.StatusNotFound {
		t.Errorf("empty id code = %d, want 404", code)
	}

	agent.Stop()
}

func TestAdminServer_EmptyEpisodeListIsJSONArray(t *testing.T) {
	agent, base := startBareAgent(t)
	defer agent.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Get(base + "/episodes")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if got := string(body); got != "[]\n" {
		t.Errorf("empty list body = %q, want []", got)
	}
}

func TestStatusReport_JSONShape(t *testing.T) {
	agent, base := startBareAgent(t)
	defer agent.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()

	var raw map[string]interface{}
	adminGet(t, client, base+"/status", &raw)
	for _, key := range []string{"version", "services", "active_sessions", "episode_count", "registry_entries"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("status payload missing %q: %v", key, raw)
		}
	}
}
