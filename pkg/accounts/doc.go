// Package accounts persists signed-in players and hands out access tokens
// that are valid for at least a safety margin, refreshing them at most once
// at a time per account.
package accounts
