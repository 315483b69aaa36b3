// Package orchestrator drives the story lifecycle: a periodic tick advances
// each active story (chapter generation, evaluation, completion), maintains
// the active population between its configured bounds, runs the cover-art
// backfill batch, and triggers the meta-analysis pipeline when stories have
// changed since the last pass.
//
// One mutex serializes the whole tick body; a tick that fires while the
// previous one is still running is skipped, never queued. Manual chapter
// generation takes the same mutex. The cover backfill holds a second,
// independent mutex so batches and ticks never block each other.
package orchestrator
