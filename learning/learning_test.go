package learning

import (
	"testing"
	"time"

	hubstore "github.com/starlighthub/sentinel-hub/store"
)

func newTestFileStore(t *testing.T, dir string) *hubstore.FileStore {
	t.Helper()
	fs, err := hubstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestLearnMonotonicityAndBareFallback(t *testing.T) {
	s := New(newTestFileStore(t, t.TempDir()))
	s.Learn("click", "login button", "#login")

	if sel, ok := s.Lookup("click", "login button"); !ok || sel != "#login" {
		t.Fatalf("Lookup(qualified) = %q, %v", sel, ok)
	}
	if sel, ok := s.LookupBare("login button"); !ok || sel != "#login" {
		t.Fatalf("LookupBare = %q, %v", sel, ok)
	}

	s.Learn("click", "login button", "#new-login")
	if sel, _ := s.Lookup("click", "login button"); sel != "#new-login" {
		t.Fatalf("overwrite failed: got %q", sel)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s1 := New(newTestFileStore(t, dir))
	s1.Learn("goto", "home", "a.home")
	if err := s1.SaveAtomic(time.Second); err != nil {
		t.Fatalf("SaveAtomic: %v", err)
	}

	s2 := New(newTestFileStore(t, dir))
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sel, ok := s2.LookupBare("home"); !ok || sel != "a.home" {
		t.Fatalf("Lookup after reload = %q, %v", sel, ok)
	}
}

func TestLoadIgnoresMissingFile(t *testing.T) {
	s := New(newTestFileStore(t, t.TempDir()))
	if err := s.Load(); err != nil {
		t.Fatalf("Load of a missing file should not error, got %v", err)
	}
}

func TestGhostLatencyRoundTrip(t *testing.T) {
	s := New(newTestFileStore(t, t.TempDir()))
	if _, ok := s.Ghost("click", "#a"); ok {
		t.Fatal("expected no ghost entry yet")
	}
	s.RecordGhost("click", "#a", 850)
	ms, ok := s.Ghost("click", "#a")
	if !ok || ms != 850 {
		t.Fatalf("Ghost = %d, %v, want 850, true", ms, ok)
	}
}

func TestAuraPredictiveBufferCoversNeighboringBuckets(t *testing.T) {
	start := time.Now()
	a := NewAuraTracker(start, 500*time.Millisecond)
	a.MarkUnstable(start.Add(2500 * time.Millisecond)) // bucket 5

	if !a.IsHistoricallyUnstable(start.Add(2500 * time.Millisecond)) {
		t.Fatal("exact bucket should be unstable")
	}
	if !a.IsHistoricallyUnstable(start.Add(2000 * time.Millisecond)) {
		t.Fatal("predecessor bucket should be covered by the predictive buffer")
	}
	if !a.IsHistoricallyUnstable(start.Add(3000 * time.Millisecond)) {
		t.Fatal("successor bucket should be covered by the predictive buffer")
	}
	if a.IsHistoricallyUnstable(start.Add(10000 * time.Millisecond)) {
		t.Fatal("distant bucket should not be marked unstable")
	}
}

func TestTraceRingBufferDropsOldestWhenFull(t *testing.T) {
	tr := NewTrace(3, nil)
	tr.Append(Entry{Method: "a"})
	tr.Append(Entry{Method: "b"})
	tr.Append(Entry{Method: "c"})
	tr.Append(Entry{Method: "d"}) // should evict "a"

	snap := tr.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	got := []string{snap[0].Method, snap[1].Method, snap[2].Method}
	want := []string{"b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot order = %v, want %v", got, want)
		}
	}
}

func TestBuildReportCountsByType(t *testing.T) {
	tr := NewTrace(10, nil)
	tr.Append(Entry{Type: TypeCommand})
	tr.Append(Entry{Type: TypeCommand, ForcedProceed: true})
	tr.Append(Entry{Type: TypeFailure})
	tr.Append(Entry{Type: TypeHijack})

	s := New(newTestFileStore(t, t.TempDir()))
	s.Learn("goto", "home", "a.home")

	report := BuildReport(tr, s)
	if report.CommandCount != 2 || report.ForcedCount != 1 || report.FailureCount != 1 || report.HijackCount != 1 {
		t.Fatalf("unexpected report counts: %+v", report)
	}
	if report.LearnedGoals != s.Size() {
		t.Fatalf("LearnedGoals = %d, want %d", report.LearnedGoals, s.Size())
	}
}
