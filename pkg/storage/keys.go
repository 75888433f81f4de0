package storage

import "fmt"

// Journal key schema for Pebble storage
//
//   run:<runID>                           → RunRecord
//   exec:<runID>:<step>:<orderID>         → ExecutionRecord
//
// Step (10 digits) and order id (20 digits) are zero-padded so a prefix scan
// over one run returns executions in step order, then id order.

// Key prefixes
const (
	prefixRun  = "run:"
	prefixExec = "exec:"
)

// runKey returns the key for a run record
// Format: "run:{runID}"
func runKey(runID string) []byte {
	return []byte(prefixRun + runID)
}

// execKey returns the key for one execution
// Format: "exec:{runID}:{step:010d}:{orderID:020d}"
func execKey(runID string, step int, orderID int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%020d", prefixExec, runID, step, orderID))
}

// execPrefix returns the prefix for all executions of a run
// Format: "exec:{runID}:"
func execPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixExec, runID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
