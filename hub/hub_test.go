package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starlighthub/sentinel-hub/config"
	"github.com/starlighthub/sentinel-hub/driver"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	cfg := config.Default()
	cfg.TestMode = true
	cfg.StoreBackend = "memory"
	h, err := New(cfg, driver.NewFake())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestHealthReportsShapeFromSpec(t *testing.T) {
	h := newTestHub(t)
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"status", "version", "protocol", "uptime", "agents", "mission", "security"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("/health response missing %q: %+v", key, body)
		}
	}
	mission, ok := body["mission"].(map[string]interface{})
	if !ok {
		t.Fatalf("mission field is not an object: %+v", body["mission"])
	}
	for _, key := range []string{"active", "queueLength", "isLocked"} {
		if _, ok := mission[key]; !ok {
			t.Fatalf("mission missing %q: %+v", key, mission)
		}
	}
}

func TestDebugSnapshotRequiresAdminTokenWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.TestMode = true
	cfg.AdminToken = "operator-secret"
	h, err := New(cfg, driver.NewFake())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hub/debug/snapshot")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated status = %d, want 403", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hub/debug/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+h.adminTok.Sign("debug/snapshot"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp2.StatusCode)
	}
}

func TestDebugSnapshotOpenWhenNoAdminTokenConfigured(t *testing.T) {
	h := newTestHub(t)
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hub/debug/snapshot")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMissionReportPublishesTraceAndCounters(t *testing.T) {
	h := newTestHub(t)
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hub/mission/report")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"generatedAt", "entries", "commandCount", "failureCount", "forcedCount", "hijackCount", "learnedGoals"} {
		if _, ok := report[key]; !ok {
			t.Fatalf("mission report missing %q: %+v", key, report)
		}
	}
}

func TestMissionReportRequiresAdminTokenWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.TestMode = true
	cfg.AdminToken = "operator-secret"
	h, err := New(cfg, driver.NewFake())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hub/mission/report")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated status = %d, want 403", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hub/mission/report", nil)
	req.Header.Set("Authorization", "Bearer "+h.adminTok.Sign("mission/report"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp2.StatusCode)
	}
}
