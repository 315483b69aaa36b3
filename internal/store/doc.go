// Package store manages storyloom persistence backed by SQLite.
//
// The schema covers the story lifecycle (stories, chapters, evaluations)
// and the meta-analysis surface (corpus snapshots, entities, themes,
// overrides, universe links, clusters, memberships, audit runs). Writes
// that must land together (chapter creation, per-story entity replacement,
// universe rebuilds) run inside a single transaction; the orchestrator's
// tick phases are otherwise independently durable.
package store
