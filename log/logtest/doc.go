/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a log.FieldLogger that records entries so tests can inspect what was logged.
package logtest
