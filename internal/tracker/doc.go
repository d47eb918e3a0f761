// Package tracker keeps a live, monotonic view of remote batch jobs.
//
// An [Engine] runs one tracking session per job id. A session takes a full
// snapshot, then follows the job over a push channel. When the push channel
// keeps failing it falls back to polling the snapshot endpoint. Every inbound
// update, whether a partial delta or a full snapshot, goes through [Reconcile]
// before it reaches the job cache and the subscriber.
//
// Session states:
//
//	idle -> snapshotting -> live | polling -> settled
//
// A session settles after it has seen a terminal status and emitted one final
// snapshot, or after an error it cannot recover from. Settled sessions do no
// further network work.
package tracker
