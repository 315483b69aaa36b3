// Package config loads, validates, and normalizes storyloom configuration.
//
// Configuration is TOML with sensible defaults; the daemon and CLI share
// one file. Values that operators tune at runtime (chapter cadence,
// population bounds, backfill pacing) only seed the database-backed
// runtime configuration on first start; see internal/runtimecfg.
package config
