// Package pipeline drives one device-code sign-in from the Microsoft token
// through XBL, XSTS and the game-services identity exchange to a verified,
// game-owning account. Each step is an explicit state; the flow ends in
// Completed or in exactly one terminal failure state.
package pipeline
