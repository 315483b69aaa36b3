// Package notifications broadcasts lifecycle events (chapters, completions,
// spawns, backfill results, errors) to an ntfy topic. When no topic is
// configured a noop implementation is used, so callers never need to guard
// their notification calls.
package notifications
