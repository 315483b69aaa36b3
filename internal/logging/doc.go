// Package logging builds the shared slog logger and provides attribute
// helpers plus the standardized field names used across storyloom.
package logging
