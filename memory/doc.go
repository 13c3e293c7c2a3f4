// Package memory implements the two-tier conversational memory of a chat
// session.
//
// Short-term memory holds recent turns. It lives in two places at once:
//   - Buffer: a fast ephemeral cache, the source for hot reads
//   - Log: a durable ordered log, the source of truth for recovery
//
// The buffer is a pure cache. When it is empty for a session, the next read
// replays the durable log into it.
//
// Long-term memory is a sequence of immutable summaries. Once the estimated
// size of short-term memory reaches Config.SummaryThreshold, the store asks
// the generator for a summary, commits it durably, indexes its embedding in
// the "ltm" vector collection and only then evicts all but the most recent
// Config.RetainTurns short-term entries.
//
// Implementations:
//   - buffer/ristretto: ephemeral buffer on dgraph-io/ristretto
//   - store/sqlite: durable log, summaries, sessions and ingestion rows
//   - store/chromem: vector index on chromem-go
//   - embedder/mock, embedder/remote: embedders for tests and production
package memory
