// Package transport is the HTTP primitive every hop of the sign-in chain talks
// through: JSON or form bodies in, status plus raw body out, with client-side
// per-host rate limiting.
package transport
