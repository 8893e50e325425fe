// Package contracts defines the shared wire and domain types of the DRP
// core: committee members, block headers, signature envelopes, activity
// claims, decision records, and disputes. Every other package speaks in
// these types; none of them carry behavior beyond small derived values.
package contracts

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ElderStatus is the lifecycle state of a committee member.
type ElderStatus string

const (
	ElderActive   ElderStatus = "active"
	ElderInactive ElderStatus = "inactive"
	ElderRotating ElderStatus = "rotating"
	ElderSlashed  ElderStatus = "slashed"
)

// Valid reports whether s is a recognized status.
func (s ElderStatus) Valid() bool {
	switch s {
	case ElderActive, ElderInactive, ElderRotating, ElderSlashed:
		return true
	}
	return false
}

// Elder is one committee member. The identity fields (ElderID, PublicKey)
// are immutable for the life of the process; status, reputation and
// activity bookkeeping are mutated by rotation and revocation. Private
// key material never appears here; signing goes through the keystore.
type Elder struct {
	ElderID        string            `json:"elder_id"`
	PublicKey      ed25519.PublicKey `json:"-"`
	Status         ElderStatus       `json:"status"`
	Reputation     float64           `json:"reputation"`
	LastActivityTS time.Time         `json:"last_activity_ts"`
	Specialization string            `json:"specialization,omitempty"`
}

// Fingerprint is the first 16 hex characters of SHA-256 over the raw
// public key bytes. It is a short, stable handle for humans and logs.
func (e Elder) Fingerprint() string {
	return KeyFingerprint(e.PublicKey)
}

// KeyFingerprint computes the fingerprint form used across the protocol
// for any Ed25519 public key.
func KeyFingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:16]
}
