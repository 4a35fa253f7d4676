package registry

import (
	"context"
	"testing"
	"time"
)

type fakeConn struct {
	sent   []interface{}
	closed bool
}

func (c *fakeConn) Send(v interface{}) error { c.sent = append(c.sent, v); return nil }
func (c *fakeConn) Close() error             { c.closed = true; return nil }
func (c *fakeConn) RemoteAddr() string       { return "127.0.0.1:0" }

func TestRegisterThenChallengeReachesReady(t *testing.T) {
	r := New("")
	conn := &fakeConn{}

	agent, err := r.Register(conn, "dom", 5, []string{"click"}, nil, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if agent.State != ChallengePending {
		t.Fatalf("state = %v, want CHALLENGE_PENDING", agent.State)
	}

	ok, err := r.ChallengeResponse(agent.ID, agent.Nonce)
	if err != nil || !ok {
		t.Fatalf("ChallengeResponse: ok=%v err=%v", ok, err)
	}

	got, found := r.Get(agent.ID)
	if !found || got.State != Ready {
		t.Fatalf("agent not READY after challenge: %+v", got)
	}
}

func TestChallengeResponseIdempotentOnceReady(t *testing.T) {
	r := New("")
	agent, _ := r.Register(&fakeConn{}, "dom", 5, nil, nil, "")
	if _, err := r.ChallengeResponse(agent.ID, agent.Nonce); err != nil {
		t.Fatalf("first challenge: %v", err)
	}
	ok, err := r.ChallengeResponse(agent.ID, "garbage-should-be-ignored")
	if err != nil || !ok {
		t.Fatalf("duplicate challenge response should be a no-op success, got ok=%v err=%v", ok, err)
	}
}

func TestChallengeResponseRejectsWrongNonce(t *testing.T) {
	r := New("")
	agent, _ := r.Register(&fakeConn{}, "dom", 5, nil, nil, "")
	if _, err := r.ChallengeResponse(agent.ID, "wrong-nonce"); err != ErrBadNonce {
		t.Fatalf("err = %v, want ErrBadNonce", err)
	}
}

func TestRegisterRejectsBadAuthToken(t *testing.T) {
	r := New("secret-token")
	_, err := r.Register(&fakeConn{}, "dom", 5, nil, nil, "wrong")
	if err != ErrAuthMismatch {
		t.Fatalf("err = %v, want ErrAuthMismatch", err)
	}
}

func TestCheckAdmissionAllowsHandshakeAndLivenessBeforeReady(t *testing.T) {
	cases := []struct {
		state  State
		method string
		want   bool
	}{
		{ChallengePending, "registration", true},
		{ChallengePending, "challenge_response", true},
		{ChallengePending, "pulse", true},
		{ChallengePending, "vote", false},
		{Unauthenticated, "intent", true}, // client-origin bypass
		{Ready, "vote", true},
	}
	for _, tc := range cases {
		err := CheckAdmission(tc.state, tc.method)
		got := err == nil
		if got != tc.want {
			t.Errorf("CheckAdmission(%v, %q) allowed=%v, want %v", tc.state, tc.method, got, tc.want)
		}
	}
}

func TestRelevantAgentsFiltersByReadyAndPriorityOrdersAscending(t *testing.T) {
	r := New("")
	low, _ := r.Register(&fakeConn{}, "dom", 3, nil, nil, "")
	r.ChallengeResponse(low.ID, low.Nonce)
	high, _ := r.Register(&fakeConn{}, "dom", 1, nil, nil, "")
	r.ChallengeResponse(high.ID, high.Nonce)
	irrelevant, _ := r.Register(&fakeConn{}, "dom", 20, nil, nil, "")
	r.ChallengeResponse(irrelevant.ID, irrelevant.Nonce)
	notReady, _ := r.Register(&fakeConn{}, "dom", 1, nil, nil, "")
	_ = notReady

	got := r.RelevantAgents()
	if len(got) != 2 {
		t.Fatalf("len(RelevantAgents()) = %d, want 2", len(got))
	}
	if got[0].ID != high.ID || got[1].ID != low.ID {
		t.Fatalf("expected priority-ascending order [high, low], got %+v", got)
	}
}

func TestSupervisorEvictsSilentAgent(t *testing.T) {
	r := New("")
	agent, _ := r.Register(&fakeConn{}, "dom", 5, nil, nil, "")
	r.ChallengeResponse(agent.ID, agent.Nonce)

	r.mu.Lock()
	r.agents[agent.ID].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	evicted := make(chan string, 1)
	sup := NewSupervisor(r, 10*time.Millisecond, 5*time.Millisecond, func(id string, wasReady bool) {
		if !wasReady {
			t.Errorf("expected evicted agent to have been READY")
		}
		evicted <- id
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go sup.Run(ctx)

	select {
	case id := <-evicted:
		if id != agent.ID {
			t.Fatalf("evicted %s, want %s", id, agent.ID)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("supervisor did not evict stale agent in time")
	}

	if _, found := r.Get(agent.ID); found {
		t.Fatal("agent should have been removed from the registry")
	}
}
