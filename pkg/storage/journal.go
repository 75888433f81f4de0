// Package storage provides the Pebble-backed execution journal.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	json "github.com/goccy/go-json"
)

// ErrRunNotFound is returned by Run for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// memDir is the directory name used for in-memory journals.
const memDir = "journal"

// RunRecord describes one simulation run
type RunRecord struct {
	RunID          string    `json:"runId"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
	StepsRequested int       `json:"stepsRequested"`
	StepsCompleted int       `json:"stepsCompleted"`
	Stopped        bool      `json:"stopped"` // ended early by stop request or context
	StartValue     float64   `json:"startValue"`
	EndValue       float64   `json:"endValue"`
	StateHash      string    `json:"stateHash,omitempty"` // ledger hash at the end of the run
}

// ExecutionRecord is one journaled fill
type ExecutionRecord struct {
	RunID      string    `json:"runId"`
	Step       int       `json:"step"`
	OrderID    int64     `json:"orderId"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	LimitPrice float64   `json:"limitPrice"`
	Price      float64   `json:"price"` // execution price
	ExecutedAt time.Time `json:"executedAt"`
}

// Journal is an append-mostly store of runs and their executions.
// Pebble handles concurrent readers and writers; Journal adds no locking.
type Journal struct {
	db       *pebble.DB
	inMemory bool
}

// OpenJournal opens a journal at path. An empty path opens an in-memory
// journal that is discarded on Close.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return openJournal(memDir, vfs.NewMem(), true)
	}
	return openJournal(path, vfs.Default, false)
}

// OpenJournalFS opens a journal on the given filesystem.
func OpenJournalFS(path string, fs vfs.FS) (*Journal, error) {
	return openJournal(path, fs, false)
}

func openJournal(path string, fs vfs.FS, inMemory bool) (*Journal, error) {
	opts := &pebble.Options{
		FS:           fs,
		Cache:        pebble.NewCache(16 << 20), // 16MB cache
		MemTableSize: 4 << 20,
		MaxOpenFiles: 256,
		BytesPerSync: 512 << 10,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble journal at %s: %w", path, err)
	}
	return &Journal{db: db, inMemory: inMemory}, nil
}

// InMemory reports whether the journal lives only in process memory.
func (j *Journal) InMemory() bool { return j.inMemory }

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordRun creates or overwrites a run record
func (j *Journal) RecordRun(rec RunRecord) error {
	if rec.RunID == "" {
		return errors.New("run id cannot be empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := j.db.Set(runKey(rec.RunID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Run loads one run record
func (j *Journal) Run(runID string) (RunRecord, error) {
	data, closer, err := j.db.Get(runKey(runID))
	if err == pebble.ErrNotFound {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	defer closer.Close()

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return rec, nil
}

// Runs returns every run record, oldest start first
func (j *Journal) Runs() ([]RunRecord, error) {
	prefix := []byte(prefixRun)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var runs []RunRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec RunRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		runs = append(runs, rec)
	}
	sort.SliceStable(runs, func(a, b int) bool { return runs[a].StartedAt.Before(runs[b].StartedAt) })
	return runs, nil
}

// RecordExecution persists one execution
func (j *Journal) RecordExecution(rec ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	key := execKey(rec.RunID, rec.Step, rec.OrderID)
	if err := j.db.Set(key, data, pebble.NoSync); err != nil { // NoSync: one tick's fills are cheap to lose
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// RecordExecutions writes one tick's executions atomically
func (j *Journal) RecordExecutions(recs []ExecutionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	b := j.db.NewBatch()
	defer b.Close()

	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal execution %d: %w", rec.OrderID, err)
		}
		if err := b.Set(execKey(rec.RunID, rec.Step, rec.OrderID), data, nil); err != nil {
			return fmt.Errorf("failed to stage execution %d: %w", rec.OrderID, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit executions: %w", err)
	}
	return nil
}

// Executions returns all executions of a run in step order
func (j *Journal) Executions(runID string) ([]ExecutionRecord, error) {
	prefix := execPrefix(runID)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []ExecutionRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec ExecutionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecentExecutions returns up to limit executions of a run, newest first.
// A non-positive limit returns everything.
func (j *Journal) RecentExecutions(runID string, limit int) ([]ExecutionRecord, error) {
	prefix := execPrefix(runID)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []ExecutionRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var rec ExecutionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
