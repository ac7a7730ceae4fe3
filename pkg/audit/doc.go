// Package audit appends every admission decision to a write-only log.
//
// The admission path calls Recorder.Record, which never blocks: records
// flow through a buffered channel to a single writer goroutine, and a full
// buffer drops records rather than adding latency to request handling.
//
// Storage backends: SQLite for durable logs and an in-memory store for
// tests. The Pruner enforces a retention period on a cron schedule.
package audit
