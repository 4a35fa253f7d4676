package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starlighthub/sentinel-hub/consensus"
	"github.com/starlighthub/sentinel-hub/driver"
	"github.com/starlighthub/sentinel-hub/learning"
	"github.com/starlighthub/sentinel-hub/lock"
	"github.com/starlighthub/sentinel-hub/pipeline"
	"github.com/starlighthub/sentinel-hub/queue"
	"github.com/starlighthub/sentinel-hub/registry"
)

func TestValidateRejectsWrongProtocolOrNamespace(t *testing.T) {
	cases := []Envelope{
		{JSONRPC: "1.0", Method: "starlight.intent"},
		{JSONRPC: "2.0", Method: "other.intent"},
		{JSONRPC: "2.0", Method: ""},
	}
	for _, env := range cases {
		if validate(env) {
			t.Fatalf("expected %+v to fail validation", env)
		}
	}
	if !validate(Envelope{JSONRPC: "2.0", Method: "starlight.intent"}) {
		t.Fatal("expected a well-formed envelope to validate")
	}
}

func TestBareMethodStripsNamespace(t *testing.T) {
	if got := bareMethod("starlight.intent"); got != "intent" {
		t.Fatalf("bareMethod = %q, want intent", got)
	}
	if got := bareMethod("unnamespaced"); got != "unnamespaced" {
		t.Fatalf("bareMethod passthrough = %q", got)
	}
}

func TestRoundIDRoundTrips(t *testing.T) {
	id := roundEnvelopeID(42)
	gen, ok := parseRoundID(id)
	if !ok || gen != 42 {
		t.Fatalf("parseRoundID(%q) = %d, %v, want 42, true", id, gen, ok)
	}
	if _, ok := parseRoundID("not-a-round-id"); ok {
		t.Fatal("expected a non-round id to fail parsing")
	}
}

func newTestServer(t *testing.T) (*Server, *driver.Fake, *httptest.Server) {
	t.Helper()
	q := queue.New()
	l := lock.New()
	reg := registry.New("")
	ce := consensus.NewEngine(1.0, 5*time.Millisecond, time.Second, 50*time.Millisecond)
	store := learning.New(nil)
	trace := learning.NewTrace(50, nil)
	drv := driver.NewFake()

	s := NewServer(reg, ce, nil, store, trace, nil, nil, time.Second)
	exec := pipeline.NewExecutor(q, l, ce, reg, store, trace, drv, s, pipeline.Options{
		LockTTL:            time.Second,
		MaxPreCheckRetries: 3,
		AuraBucket:         500 * time.Millisecond,
		AuraPredictiveWait: time.Millisecond,
		ScreenshotThrottle: time.Millisecond,
		MissionStart:       time.Now(),
	})
	s.executor = exec

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	srv := httptest.NewServer(mux)

	ctx := t.Context()
	go exec.Run(ctx)

	return s, drv, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestClientIntentRunsWithoutHandshakeAndCompletes(t *testing.T) {
	_, drv, srv := newTestServer(t)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	params, _ := json.Marshal(intentParams{Cmd: "goto", URL: "https://example.com"})
	if err := conn.WriteJSON(Envelope{JSONRPC: "2.0", Method: "starlight.intent", Params: params, ID: "req-1"}); err != nil {
		t.Fatalf("write intent: %v", err)
	}

	var sawResult, sawComplete bool
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) && !(sawResult && sawComplete) {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if env.ID == "req-1" && env.Result != nil {
			sawResult = true
		}
		if env.Method == "starlight.COMMAND_COMPLETE" {
			sawComplete = true
		}
	}
	if !sawResult {
		t.Fatal("never received the intent's result envelope")
	}
	if !sawComplete {
		t.Fatal("never received a COMMAND_COMPLETE notification")
	}

	found := false
	for _, c := range drv.Calls {
		if c == "goto(https://example.com)" {
			found = true
		}
	}
	if !found {
		t.Fatalf("driver calls = %v, want a goto call", drv.Calls)
	}
}

func TestAgentRegistrationHandshakeReachesReady(t *testing.T) {
	_, _, srv := newTestServer(t)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	params, _ := json.Marshal(registrationParams{Layer: "validator", Priority: 1})
	if err := conn.WriteJSON(Envelope{JSONRPC: "2.0", Method: "starlight.registration", Params: params, ID: "r1"}); err != nil {
		t.Fatalf("write registration: %v", err)
	}

	var reg Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reg); err != nil {
		t.Fatalf("read registration result: %v", err)
	}
	data, _ := json.Marshal(reg.Result)
	var result registrationResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal registration result: %v", err)
	}
	if result.AssignedID == "" || result.Challenge == "" {
		t.Fatalf("incomplete registration result: %+v", result)
	}

	crParams, _ := json.Marshal(challengeResponseParams{Response: result.Challenge})
	if err := conn.WriteJSON(Envelope{JSONRPC: "2.0", Method: "starlight.challenge_response", Params: crParams, ID: "r2"}); err != nil {
		t.Fatalf("write challenge_response: %v", err)
	}

	sawSuccess := false
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) && !sawSuccess {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if env.ID == "r2" && env.Result != nil {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatal("never received a successful challenge_response result")
	}
}

func TestRejectedMethodBeforeReadyGetsHandshakeError(t *testing.T) {
	_, _, srv := newTestServer(t)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	params, _ := json.Marshal(hijackParams{Reason: "too early"})
	if err := conn.WriteJSON(Envelope{JSONRPC: "2.0", Method: "starlight.hijack", Params: params, ID: "h1"}); err != nil {
		t.Fatalf("write hijack: %v", err)
	}

	var env Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if env.Error == nil || env.Error.Code != CodeHandshake {
		t.Fatalf("expected a handshake error envelope, got %+v", env)
	}
}
