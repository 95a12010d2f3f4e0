package service

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agentguard/agentguard/internal/domain/policy"
)

func record(tool string, action policy.Action) DecisionRecord {
	return DecisionRecord{
		Time:     time.Now(),
		ToolName: tool,
		Action:   action,
		Reason:   "test",
	}
}

// waitForCount polls until the log retains n records.
func waitForCount(t *testing.T, l *DecisionLog, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(l.Recent()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("log never reached %d records (have %d)", n, len(l.Recent()))
}

func TestDecisionLogRecordAndRecent(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewDecisionLog(testLogger())
	defer l.Close()

	l.Record(record("a", policy.ActionAllow))
	l.Record(record("b", policy.ActionBlock))
	waitForCount(t, l, 2)

	recent := l.Recent()
	if recent[0].ToolName != "a" || recent[1].ToolName != "b" {
		t.Errorf("Recent() order = %s,%s, want a,b", recent[0].ToolName, recent[1].ToolName)
	}
}

func TestDecisionLogRingOverwrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewDecisionLog(testLogger(), WithLogCapacity(3))
	defer l.Close()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		l.Record(record(name, policy.ActionAllow))
	}
	waitForCount(t, l, 3)

	recent := l.Recent()
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d records, want 3", len(recent))
	}
	want := []string{"c", "d", "e"}
	for i, w := range want {
		if recent[i].ToolName != w {
			t.Errorf("Recent()[%d] = %s, want %s", i, recent[i].ToolName, w)
		}
	}
}

func TestDecisionLogDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewDecisionLog(testLogger(), WithLogChannelSize(1), WithLogCapacity(1))

	// Stop the worker so the channel backs up, then overfill it.
	l.Close()
	l.Record(record("kept", policy.ActionAllow))
	l.Record(record("dropped", policy.ActionAllow))

	if l.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", l.Drops())
	}
}

func TestDecisionLogDropHookFiresPerDrop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hookCalls int
	l := NewDecisionLog(testLogger(),
		WithLogChannelSize(1),
		WithDropHook(func() { hookCalls++ }),
	)

	l.Close()
	l.Record(record("kept", policy.ActionAllow))
	l.Record(record("dropped", policy.ActionAllow))
	l.Record(record("dropped", policy.ActionAllow))

	if hookCalls != 2 {
		t.Errorf("drop hook fired %d times, want 2", hookCalls)
	}
	if l.Drops() != 2 {
		t.Errorf("Drops() = %d, want 2", l.Drops())
	}
}

func TestDecisionLogCloseDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewDecisionLog(testLogger())
	for i := 0; i < 10; i++ {
		l.Record(record("x", policy.ActionAllow))
	}
	l.Close()

	if got := len(l.Recent()); got != 10 {
		t.Errorf("Recent() after Close = %d records, want 10", got)
	}
}
