// Package kvstore implements the generalized persistence capability set
// (§9 design notes: "duck-typed storage backends" become a KVStore
// capability set with concrete implementations selected at startup, never
// branched on by the caller). FileStore is the default, atomic-rename
// JSON-on-disk backend; CassandraStore is an opt-in backend for
// deployments that already run Cassandra for other services.
package kvstore

import "errors"

// ErrNotFound is returned by Get (as the bool return, not an error) --
// kept here only as a sentinel for callers that prefer errors.Is style
// checks against a missing-key condition in a Transaction.
var ErrNotFound = errors.New("kvstore: key not found")
