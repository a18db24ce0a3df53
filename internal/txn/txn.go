// Package txn implements the atomic multi-file write buffer described in
// spec.md §4.3 (WUTransaction). It generalizes the single-file atomic
// writes in internal/engine/state.go (WriteStatus/SetLastSeen, each a
// single os.WriteFile call) into a buffered, validated, multi-file
// transaction with snapshot/restore for rollback.
package txn

import (
	"fmt"
	"os"
	"path/filepath"
)

// pendingWrite is one buffered file write.
type pendingWrite struct {
	path        string
	content     []byte
	hasContent  bool
	description string
}

// Transaction buffers a set of file writes and commits them atomically
// from the caller's point of view: either validate fails and nothing is
// touched, or commit writes every file.
type Transaction struct {
	writes    []pendingWrite
	committed bool
	aborted   bool
}

// New creates an empty Transaction.
func New() *Transaction {
	return &Transaction{}
}

// AddWrite enqueues a pending write. Panics are not used; instead it
// returns an error if the transaction is already committed or aborted, per
// spec.md §4.3.
func (t *Transaction) AddWrite(path string, content []byte, description string) error {
	if t.committed {
		return fmt.Errorf("cannot add write to %s: transaction already committed", path)
	}
	if t.aborted {
		return fmt.Errorf("cannot add write to %s: transaction already aborted", path)
	}
	t.writes = append(t.writes, pendingWrite{path: path, content: content, hasContent: content != nil, description: description})
	return nil
}

// ValidationResult is returned by Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate reports whether the transaction is ready to commit: invalid iff
// there are zero pending writes or any write has undefined (nil) content.
func (t *Transaction) Validate() ValidationResult {
	var errs []string
	if len(t.writes) == 0 {
		errs = append(errs, "transaction has no pending writes")
	}
	for _, w := range t.writes {
		if !w.hasContent {
			errs = append(errs, fmt.Sprintf("write to %s has undefined content", w.path))
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// CommitResult reports which files were written and which failed.
type CommitResult struct {
	Success  bool
	Written  []string
	Failed   []string
}

// Commit sequentially mkdir -p's each write's directory then writes the
// file. On success, pending writes are cleared and the transaction is
// marked committed. Guarantee (spec.md §4.3): if commit succeeds, every
// file exists with the requested contents.
func (t *Transaction) Commit() (CommitResult, error) {
	if t.committed {
		return CommitResult{}, fmt.Errorf("transaction already committed")
	}
	if t.aborted {
		return CommitResult{}, fmt.Errorf("transaction already aborted")
	}
	v := t.Validate()
	if !v.Valid {
		return CommitResult{}, fmt.Errorf("cannot commit invalid transaction: %v", v.Errors)
	}

	result := CommitResult{}
	for _, w := range t.writes {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			result.Failed = append(result.Failed, w.path)
			return result, fmt.Errorf("creating directory for %s: %w", w.path, err)
		}
		if err := os.WriteFile(w.path, w.content, 0o644); err != nil {
			result.Failed = append(result.Failed, w.path)
			return result, fmt.Errorf("writing %s: %w", w.path, err)
		}
		result.Written = append(result.Written, w.path)
	}

	result.Success = true
	t.writes = nil
	t.committed = true
	return result, nil
}

// Abort marks the transaction aborted and clears pending writes. Safe to
// call on an already-committed transaction (no-op, spec.md §4.3).
func (t *Transaction) Abort() {
	if t.committed {
		// no-op — nothing left to abort, file writes already happened. No
		// warning is emitted.
		return
	}
	t.aborted = true
	t.writes = nil
}

// Pending returns the paths currently queued for write, for callers that
// want to build a snapshot before committing.
func (t *Transaction) Pending() []string {
	paths := make([]string, 0, len(t.writes))
	for _, w := range t.writes {
		paths = append(paths, w.path)
	}
	return paths
}

// Snapshot captures the pre-transaction bytes of a set of paths, so a
// caller can roll back a committed transaction if a downstream validator
// (e.g. a post-mutation git operation) fails (spec.md §4.3,
// createTransactionSnapshot/restoreFromSnapshot).
type Snapshot struct {
	// original maps path -> content for paths that existed. existed
	// records every path; false marks one that did not exist when the
	// snapshot was taken, and such a path has no entry in original.
	original map[string][]byte
	existed  map[string]bool
}

// CreateSnapshot reads the current contents of every path. Non-existent
// paths are recorded as such rather than erroring, since a transaction may
// be about to create them for the first time.
func CreateSnapshot(paths []string) (*Snapshot, error) {
	snap := &Snapshot{
		original: make(map[string][]byte, len(paths)),
		existed:  make(map[string]bool, len(paths)),
	}
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				snap.existed[p] = false
				continue
			}
			return nil, fmt.Errorf("snapshotting %s: %w", p, err)
		}
		snap.existed[p] = true
		snap.original[p] = content
	}
	return snap, nil
}

// RestoreSnapshot writes every snapshotted path back to its pre-transaction
// bytes, removing paths that did not exist when the snapshot was taken.
// Guarantee (spec.md §8): after RestoreSnapshot returns nil, every path in
// the snapshot holds exactly its pre-transaction bytes (or is absent).
func RestoreSnapshot(snap *Snapshot) error {
	for p, existed := range snap.existed {
		if !existed {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("restoring %s (removing): %w", p, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("restoring %s (mkdir): %w", p, err)
		}
		if err := os.WriteFile(p, snap.original[p], 0o644); err != nil {
			return fmt.Errorf("restoring %s (write): %w", p, err)
		}
	}
	return nil
}
