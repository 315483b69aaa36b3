// Package generation talks to the OpenAI-compatible chat completion and image
// APIs on behalf of the orchestrator. It owns prompt assembly, response
// parsing, and retry behavior; callers only see the Service interface and
// typed results.
package generation
