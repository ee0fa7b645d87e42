// Package cli implements the mcauth command tree: device-code login, account
// listing and removal, and printing a valid game-services token.
package cli
