// Package daemon hosts the long-running storyloom process: it enforces
// single-instance execution with a file lock, runs the lifecycle
// orchestrator, and serves the HTTP control API.
package daemon
