package consensus

import (
	"testing"
	"time"
)

func TestZeroRelevantAgentsResolvesClearImmediately(t *testing.T) {
	e := NewEngine(1.0, 500*time.Millisecond, 30*time.Second, 5*time.Second)
	start := time.Now()
	_, results := e.StartRound(nil)

	select {
	case res := <-results:
		if res.Decision != DecisionClear {
			t.Fatalf("Decision = %v, want CLEAR", res.Decision)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("zero-agent round did not resolve immediately")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("zero-agent round must not wait for the settlement window")
	}
}

func TestVetoShortCircuitsToWait(t *testing.T) {
	e := NewEngine(1.0, 500*time.Millisecond, 30*time.Second, 5*time.Second)
	gen, results := e.StartRound([]string{"a1", "a5"})

	e.Vote(gen, "a5", Vote{Confidence: 1.0})
	e.Vote(gen, "a1", Vote{Veto: true, RetryAfterMs: 300})

	select {
	case res := <-results:
		if res.Decision != DecisionWait || res.RetryAfterMs != 300 {
			t.Fatalf("Result = %+v, want WAIT retryAfterMs=300", res)
		}
	case <-time.After(time.Second):
		t.Fatal("veto did not resolve the round")
	}
}

func TestUnanimousClearWaitsForSettlementWindow(t *testing.T) {
	settlement := 100 * time.Millisecond
	e := NewEngine(1.0, settlement, 30*time.Second, 5*time.Second)
	start := time.Now()
	gen, results := e.StartRound([]string{"a1"})

	e.Vote(gen, "a1", Vote{Confidence: 1.0})

	select {
	case res := <-results:
		if res.Decision != DecisionClear {
			t.Fatalf("Decision = %v, want CLEAR", res.Decision)
		}
		if time.Since(start) < settlement {
			t.Fatalf("CLEAR resolved before the settlement floor elapsed: %v", time.Since(start))
		}
	case <-time.After(time.Second):
		t.Fatal("round did not resolve")
	}
}

func TestOverallBudgetExceededResolvesWaitEvenBeforeSettlement(t *testing.T) {
	e := NewEngine(1.0, time.Second, 20*time.Millisecond, 5*time.Second)
	_, results := e.StartRound([]string{"a1", "a2"})

	select {
	case res := <-results:
		if res.Decision != DecisionWait {
			t.Fatalf("Decision = %v, want WAIT", res.Decision)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("overall budget timeout did not fire")
	}
}

func TestStaleGenerationVotesAreIgnored(t *testing.T) {
	e := NewEngine(1.0, 20*time.Millisecond, 30*time.Second, 5*time.Second)
	staleGen, _ := e.StartRound([]string{"a1"})
	e.Vote(staleGen, "a1", Vote{Confidence: 1.0}) // resolves round 1 quickly
	time.Sleep(50 * time.Millisecond)

	gen2, results2 := e.StartRound([]string{"a9"})
	// vote using the old generation id must not affect the new round
	e.Vote(staleGen, "a9", Vote{Veto: true})

	e.Vote(gen2, "a9", Vote{Confidence: 1.0})
	select {
	case res := <-results2:
		if res.Decision != DecisionClear {
			t.Fatalf("Decision = %v, want CLEAR (stale veto must not leak into new round)", res.Decision)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second round did not resolve")
	}
}

func TestCancelAbortsInProgressRound(t *testing.T) {
	e := NewEngine(1.0, 5*time.Second, 30*time.Second, 5*time.Second)
	gen, results := e.StartRound([]string{"a1", "a2"})

	e.Cancel(gen)

	select {
	case res := <-results:
		t.Fatalf("canceled round must not produce a result, got %+v", res)
	case <-time.After(100 * time.Millisecond):
		// expected: no result delivered
	}

	// a cancel on a generation that is no longer current is a harmless no-op
	e.Cancel(gen)
}

func TestSubUnanimousPartialResponsesMeetingQuorumResolveAfterSettlement(t *testing.T) {
	e := NewEngine(0.5, 10*time.Millisecond, 30*time.Second, 30*time.Millisecond)
	gen, results := e.StartRound([]string{"a1", "a2"})

	e.Vote(gen, "a1", Vote{Confidence: 1.0}) // only one of two relevant agents ever replies

	select {
	case res := <-results:
		if res.Decision != DecisionClear {
			t.Fatalf("Decision = %v, want CLEAR (0.5 threshold * N=2 == 1.0 satisfied by one full-confidence vote)", res.Decision)
		}
	case <-time.After(time.Second):
		t.Fatal("round with quorum met did not resolve after the settlement window")
	}
}
