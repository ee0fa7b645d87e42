// Package minecraft exchanges an XSTS token for a game-services bearer and
// uses that bearer to read the player profile and verify game ownership.
package minecraft
