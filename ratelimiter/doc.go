/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimiter provides an in-process rate limiter that admits at most
// LimitForPeriod callers per LimitRefreshPeriod.
//
// A caller either gets a permit immediately, waits for a permit of a future cycle
// (if the wait fits into the timeout), or is rejected. The limiter never runs a
// background goroutine: cycle refresh is computed lazily on every access, and the
// limiter state is a single immutable record replaced with compare-and-swap.
// Waiting callers have already reserved their permit before they start sleeping,
// so a permit is never granted twice.
//
// Key features:
//   - Lock-free permission acquisition and reservation
//   - Dynamic reconfiguration of the limit and the timeout
//   - Metrics snapshots and Prometheus export
//   - Event publishing with per-subscriber ordering that never blocks acquisition
//   - Named registry with configuration loading and hot reload
package ratelimiter
