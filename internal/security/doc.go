// Package security provides host fingerprinting and the token codec used to
// seal license records.
package security
