// Package pkg provides shared utilities for the aimusb driver core.
//
// This package contains functionality used by every layer of the driver,
// from the USB transports up to the platform dispatcher:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors returned by channel, bridge and board operations
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentAPU, "BIU firmware loaded", "bytes", n)
//
// # Errors
//
// Operations wrap one of the sentinel values so callers can classify
// failures without parsing messages:
//
//	if errors.Is(err, pkg.ErrNovramInvalid) {
//	    // board needs service
//	}
package pkg
