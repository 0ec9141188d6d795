/*
Package storage provides BoltDB-backed persistence for the engine's
operational state: reservations, records (general/bonanza/memberwd),
database descriptors, download requests, deposits, batches, and audit
events.

All data is serialized as JSON, one bucket per entity. Records additionally
maintain three secondary index buckets per collection —
(database_id,status), (assigned_to,status), and a unique
(database_id,row_number) — updated inside the same db.Update closure as the
primary write, so a crash mid-write never leaves an index pointing at a
record that doesn't exist (or vice versa).

Configuration singletons (scheduler config, grace-period defaults,
per-database auto-approve override aside from the DatabaseDescriptor field
itself) are not stored here — see pkg/config, which is file-backed and
hot-reloaded, not transactional.
*/
package storage
