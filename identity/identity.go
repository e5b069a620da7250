// Package identity validates the public-key material NodeInfo carries.
// The cryptographic handshake that establishes a connection is a
// Non-goal of the routing core; this package only checks that a claimed
// key is well-formed and that a signature over a challenge was produced
// by it, the way the teacher's utils package validates inbound data
// before handing it to the DHT.
package identity

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// PublicKeyValidator checks key material presented by a peer. Routing
// code depends on this interface, never on a concrete signature scheme,
// so the scheme can be swapped without touching the routing table or
// message handler.
type PublicKeyValidator interface {
	// ValidateKey reports whether key is a well-formed public key for
	// this scheme.
	ValidateKey(key []byte) error

	// Verify reports whether sig is a valid signature over msg produced
	// by the holder of key.
	Verify(key, msg, sig []byte) bool

	// Fingerprint derives a short, content-addressed identifier for key,
	// used to cross-check a NodeInfo.PublicKey against the id a peer
	// claims without needing the full key on hand.
	Fingerprint(key []byte) ([]byte, error)
}

// Ed25519Validator is the default PublicKeyValidator, backed by
// crypto/ed25519 for the signature primitive and blake2b for key
// fingerprinting.
type Ed25519Validator struct{}

// NewEd25519Validator constructs the default validator.
func NewEd25519Validator() Ed25519Validator {
	return Ed25519Validator{}
}

// ValidateKey checks that key is exactly an ed25519 public key in length.
// It cannot check that the key corresponds to a live private key; that
// is what Verify is for.
func (Ed25519Validator) ValidateKey(key []byte) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("identity: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return nil
}

// Verify reports whether sig is a valid ed25519 signature over msg under
// key. A malformed key is treated as a failed verification, not an
// error, since callers on the hot path just want a bool.
func (v Ed25519Validator) Verify(key, msg, sig []byte) bool {
	if v.ValidateKey(key) != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key), msg, sig)
}

// Fingerprint returns the 32-byte blake2b digest of key, used as a
// compact cross-check value rather than carrying the full key around.
func (v Ed25519Validator) Fingerprint(key []byte) ([]byte, error) {
	if err := v.ValidateKey(key); err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(key)
	return sum[:], nil
}
