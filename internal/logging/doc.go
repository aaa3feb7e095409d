// Package logging configures structured JSON logging for recordsync.
//
// Every recordsync component logs through log/slog with snake_case event
// names. Setup writes to a size-rotated file under ~/.recordsync/logs/ and,
// optionally, to stderr. The viewer reads those files back for the
// `recordsync logs` command.
package logging
