// Package docdb is an embedded document store persisted as JSON files.
//
// A Collection holds documents (maps from string keys to JSON-shaped values)
// keyed by their "_id" field. Documents are queried with MongoDB-style
// selectors compiled by CompileSelector and ordered by sort specifications
// compiled by CompileSort.
//
// # Change logs
//
// Besides the current items, every Collection keeps two change logs: the
// upsert log records, per id, the most recent document written locally and
// the base value it replaced; the remove log records tombstones. Both are
// meant for an external sync agent (see PendingUpserts, PendingRemoves) and
// are never consulted by Find.
//
// # Persistence
//
// A namespaced collection lives in three files in the DB directory:
//
//	{namespace}_items.json
//	{namespace}_upserts.json
//	{namespace}_removes.json
//
// Each is a JSON array that is fully rewritten by the mutation that changes
// it. There is no atomicity across the three files. Every operation reloads
// the files before running, so several processes can share one directory.
//
// # Locking
//
// Operations on one Collection are serialized by a mutex and, on unix, by an
// advisory flock(2) on {namespace}.lock. Modify and FindAndModify hold both
// for a whole read-modify-write sequence, which is what makes claims atomic.
package docdb
