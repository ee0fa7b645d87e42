// Package utils provides shared helpers for the sign-in chain, currently the
// bounded exponential backoff used for transient network failures.
package utils
