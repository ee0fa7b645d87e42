// Package msa talks to the Microsoft identity platform: the device-code grant
// used for interactive sign-in and the refresh-token grant used to renew a
// stored account.
package msa
