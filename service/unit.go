/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living parts of an application that hosts rate limiters
// (the management HTTP server, the configuration file watcher and so on) as units
// with a common start/stop lifecycle.
package service

// Unit is a part of the service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block while the unit works.
	// A fatal error is written to fatalErr at most once, and fatalErr is never used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	// If gracefully is true, the unit finishes the work in progress before returning.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that export their own Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
