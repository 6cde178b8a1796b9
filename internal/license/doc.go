// Package license verifies that the application is licensed for the machine it
// runs on.
//
// # Artifact
//
// A single JSON artifact lives at a configured path:
//
//	{
//	  "license": "<hex nonce>:<hex ciphertext>"
//	}
//
// The token seals a Record (machine id, cpu model, optional start and expiry
// dates) with the service's TokenCodec.
//
// # Validation
//
// Check recomputes the state on every call from the artifact, a fresh machine
// fingerprint and today's date. Nothing is cached:
//
//	NoLicense  artifact absent
//	Invalid    malformed, undecodable, bound elsewhere, expired or not yet started
//	Valid      everything else
//
// Storage errors are never folded into a state. They are returned wrapped in
// ErrPersistence so the operator sees a storage problem instead of an
// activation prompt.
//
// # Acceptance
//
// AcceptUploadedArtifact writes the upload, verifies the binding, re-seals the
// record under a fresh nonce and persists it. Any failure removes the artifact,
// so a rejected upload leaves the installation in the NoLicense state.
package license
