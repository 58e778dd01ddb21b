/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertion helpers for tests of HTTP handlers and Prometheus metrics.
package testutil

type tHelper interface {
	Helper()
}
