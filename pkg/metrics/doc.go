// Package metrics defines Prometheus metrics for the sign-in chain, covering
// per-hop requests and latency, device-code polling, token refreshes and
// completed logins.
package metrics
