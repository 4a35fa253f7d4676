package learning

import "time"

// MissionReport is the assembled audit output the store publishes — an
// ordered trace plus summary counters. Rendering it to HTML/JSON is out
// of scope (spec §2 "report rendering"); this struct is the publishable
// core the external renderer would consume. Grounded on the teacher's
// incident.CaptureIncident, which assembles a read-only report struct
// from several in-process collaborators rather than rendering anything
// itself.
type MissionReport struct {
	GeneratedAt   time.Time `json:"generatedAt"`
	Entries       []Entry   `json:"entries"`
	CommandCount  int       `json:"commandCount"`
	FailureCount  int       `json:"failureCount"`
	ForcedCount   int       `json:"forcedCount"`
	HijackCount   int       `json:"hijackCount"`
	LearnedGoals  int       `json:"learnedGoals"`
}

// BuildReport assembles a MissionReport from the current trace and
// learning store state.
func BuildReport(trace *Trace, store *Store) MissionReport {
	entries := trace.Snapshot()
	report := MissionReport{
		GeneratedAt:  time.Now(),
		Entries:      entries,
		LearnedGoals: store.Size(),
	}
	for _, e := range entries {
		switch e.Type {
		case TypeCommand:
			report.CommandCount++
			if e.ForcedProceed {
				report.ForcedCount++
			}
		case TypeFailure, TypeSentinelError, TypeMissionFailure:
			report.FailureCount++
		case TypeHijack:
			report.HijackCount++
		}
	}
	return report
}
