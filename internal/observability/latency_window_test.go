package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("agent_call", 500)
	w.Observe("agent_call", 700)
	w.Observe("agent_call", 900)
	w.Observe("", 10)
	w.Observe("photo_wait", -1)
	w.ObserveIndicator("outcome_answered")
	w.ObserveIndicator("outcome_answered")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "agent_call" || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(3)
	for _, v := range []float64{1, 2, 3, 100, 200} {
		w.Observe("turn_total", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.AvgMS != 101 {
		t.Fatalf("AvgMS = %.2f, want 101 (3, 100, 200)", s.AvgMS)
	}
}

func TestMetricsFeedsStageWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_%d", time.Now().UnixNano()))
	m.Stage("replay_fetch", 120*time.Millisecond)
	m.QueryOutcome("answered", time.Second)
	m.Transition("idle", "listening")
	m.Subscriptions(1)

	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 120 {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "outcome_answered" {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}
}
