// Package logx is ledgercast's structured logging.
//
// Logger is a value type over zerolog; components take one and derive their own
// with log.With(logx.String("comp", "...")). A Service owns the sinks (console
// on stderr, rotated JSON file) and can be reconfigured while running; loggers
// derived from it pick up the change on their next record.
package logx
