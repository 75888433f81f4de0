package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournalFS("journal", vfs.NewMem())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	rec := RunRecord{RunID: "r1", StartedAt: start, StepsRequested: 50, StartValue: 100000}
	if err := j.RecordRun(rec); err != nil {
		t.Fatalf("record run: %v", err)
	}

	rec.StepsCompleted = 50
	rec.EndValue = 101234.5
	rec.FinishedAt = start.Add(time.Minute)
	if err := j.RecordRun(rec); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err := j.Run("r1")
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if got.StepsCompleted != 50 || got.EndValue != 101234.5 || !got.StartedAt.Equal(start) {
		t.Errorf("run = %+v", got)
	}

	if _, err := j.Run("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("missing run err = %v, want ErrRunNotFound", err)
	}
	if err := j.RecordRun(RunRecord{}); err == nil {
		t.Error("empty run id accepted")
	}
}

func TestRunsOrderedByStart(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	// ids sort opposite to start time
	for i, id := range []string{"c", "b", "a"} {
		if err := j.RecordRun(RunRecord{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	runs, err := j.Runs()
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "c" || runs[2].RunID != "a" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestExecutionsOrderedAndScoped(t *testing.T) {
	j := openTestJournal(t)

	recs := []ExecutionRecord{
		{RunID: "r1", Step: 10, OrderID: 3, Symbol: "AAPL", Side: "BUY", Quantity: 1, Price: 150},
		{RunID: "r1", Step: 2, OrderID: 12, Symbol: "MSFT", Side: "SELL", Quantity: 2, Price: 300},
		{RunID: "r1", Step: 2, OrderID: 9, Symbol: "AAPL", Side: "BUY", Quantity: 3, Price: 149},
		{RunID: "r10", Step: 1, OrderID: 1, Symbol: "TSLA", Side: "BUY", Quantity: 1, Price: 800},
	}
	if err := j.RecordExecutions(recs[:2]); err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, r := range recs[2:] {
		if err := j.RecordExecution(r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := j.Executions("r1")
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	// step 2 before step 10; within a step by order id; r10 excluded
	wantIDs := []int64{9, 12, 3}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d executions, want %d: %+v", len(got), len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].OrderID != id {
			t.Errorf("executions[%d].OrderID = %d, want %d", i, got[i].OrderID, id)
		}
	}

	recent, err := j.RecentExecutions("r1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].OrderID != 3 || recent[1].OrderID != 12 {
		t.Errorf("recent = %+v", recent)
	}

	all, _ := j.RecentExecutions("r1", 0)
	if len(all) != 3 {
		t.Errorf("unlimited recent = %d, want 3", len(all))
	}

	if err := j.RecordExecutions(nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestOpenJournalInMemory(t *testing.T) {
	j, err := OpenJournal("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()
	if !j.InMemory() {
		t.Error("empty path did not open an in-memory journal")
	}
	if err := j.RecordRun(RunRecord{RunID: "x"}); err != nil {
		t.Errorf("record: %v", err)
	}
}

func TestKeyUpperBound(t *testing.T) {
	got := string(keyUpperBound([]byte("exec:r1:")))
	if got != "exec:r1;" {
		t.Errorf("upper bound = %q, want %q", got, "exec:r1;")
	}
	if string(execKey("r1", 7, 42)) != "exec:r1:0000000007:00000000000000000042" {
		t.Errorf("execKey = %s", execKey("r1", 7, 42))
	}
}
