// Package replicator synchronizes a local document store with a remote peer.
//
// A Replicator copies revisions in one direction: Push reads the local change
// feed and writes to the remote peer, Pull reads the remote feed and writes to
// the local store. Both directions share one state machine:
//
//	Idle -> Connecting -> Transferring -> Completed
//	                  \-> Failed        (transport errors exhausted the retries)
//	                  \-> Stopped       (Stop or context cancellation)
//
// Protocol per batch:
//
//  1. Read up to BatchSize changes after the checkpoint from the source.
//  2. Collapse them to the set of revisions per document and apply the filter.
//  3. Ask the target which of these revisions it is missing (RevsDiff).
//  4. Fetch the missing bodies with their history from the source.
//  5. Store them at the target without minting new revision ids.
//  6. Persist the checkpoint (the highest sequence of the batch) and report progress.
//
// The checkpoint is a local document in the local store, keyed by a hash of the
// local store id, the peer id, the direction and the filter. It only advances
// after a batch was fully applied, so an interrupted run transfers at most one
// batch again on resume. Because the target skips known revisions, that repeat
// writes nothing.
//
// Transport errors (any error that is not a *store.Error) are retried per batch
// with exponential backoff. Conflicting revisions are stored as branches by the
// target and counted in the progress. With Continuous set, the replicator waits
// for new changes after the feed is exhausted instead of completing.
package replicator
