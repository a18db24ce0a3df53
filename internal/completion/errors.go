package completion

import (
	"fmt"

	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/txn"
)

// handleCompletionError implements spec.md §4.11 Phase 8's failure path:
// the metadata transaction is always rolled back to its pre-mutation
// contents, and the caller is told the completion commit on top of
// preCommitSha (the HEAD recorded before that commit) is still sitting
// locally, unintegrated, and safe to retry from.
// wu:done never returns a success Result here — every branch is a failure.
func handleCompletionError(mergeErr error, preCommitSha string, snap *txn.Snapshot, wuID string) (Result, error) {
	restoreErr := txn.RestoreSnapshot(snap)

	kind := lferr.KindOf(mergeErr)
	if kind == "" {
		kind = lferr.KindGit
	}

	msg := fmt.Sprintf("completing %s failed during merge; the local completion commit on top of %s was not integrated", wuID, preCommitSha)
	wrapped := lferr.Wrap(kind, mergeErr, msg).
		WithWuID(wuID).
		WithTryNext(
			"inspect the lane worktree; the completion commit on top of "+preCommitSha+" is still there",
			"resolve the merge failure, then retry wu:done",
		)

	if restoreErr != nil {
		return Result{}, fmt.Errorf("%w (additionally, restoring metadata snapshot failed: %v)", wrapped, restoreErr)
	}
	return Result{}, wrapped
}
