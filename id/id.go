// Package id implements the fixed-width opaque node identifier and the XOR
// distance metric the routing core compares peers under.
package id

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the width of an Id in bytes (512 bits).
const Size = 64

// Id is a fixed-width opaque identifier drawn from the network's address
// space. The zero value represents "no id" and is distinct from any id
// produced by NewRandom or FromBytes (both of which are vanishingly
// unlikely to collide with it).
type Id [Size]byte

// Zero is the distinguished empty Id.
var Zero = Id{}

// NewRandom generates a cryptographically random Id, suitable for a fresh
// node identity or a bucket-refresh probe target.
func NewRandom() (Id, error) {
	var out Id
	if _, err := rand.Read(out[:]); err != nil {
		return Id{}, fmt.Errorf("id: generate random id: %w", err)
	}
	return out, nil
}

// FromBytes derives a content-addressed Id by hashing arbitrary bytes
// (such as a public key) down to the address space width.
func FromBytes(data []byte) Id {
	var out Id
	sum := sha3.Sum512(data)
	copy(out[:], sum[:])
	return out
}

// FromHex parses a hex-encoded Id. It returns an error if the decoded
// length does not match Size.
func FromHex(s string) (Id, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("id: decode hex: %w", err)
	}
	if len(raw) != Size {
		return Id{}, fmt.Errorf("id: decoded length %d, want %d", len(raw), Size)
	}
	var out Id
	copy(out[:], raw)
	return out, nil
}

// IsZero reports whether this is the distinguished empty Id.
func (a Id) IsZero() bool {
	return a == Zero
}

// Equal reports byte-for-byte equality.
func (a Id) Equal(b Id) bool {
	return a == b
}

// String renders the Id as lowercase hex.
func (a Id) String() string {
	return hex.EncodeToString(a[:])
}

// Short renders a debug-friendly truncated hex prefix, in the style of the
// original implementation's HexSubstr helper.
func (a Id) Short() string {
	s := a.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Xor computes the bytewise XOR distance between two ids.
func Xor(a, b Id) Id {
	var out Id
	for i := 0; i < Size; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Compare returns -1, 0, or 1 comparing the raw bytes of a and b
// lexicographically big-endian. Used only as the deterministic tie-break
// when two ids are equidistant from a reference.
func Compare(a, b Id) int {
	return bytes.Compare(a[:], b[:])
}

// CloserTo reports whether a is strictly closer to target than b is,
// under XOR distance, tie-breaking on raw lexicographic id order.
func CloserTo(a, b, target Id) bool {
	da, db := Xor(a, target), Xor(b, target)
	c := bytes.Compare(da[:], db[:])
	if c != 0 {
		return c < 0
	}
	return Compare(a, b) < 0
}

// CommonPrefixLen returns the number of leading bits shared between a and
// b, used to place a peer into a Kademlia-style bucket by the length of
// the common prefix with self.
func CommonPrefixLen(a, b Id) int {
	for i := 0; i < Size; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		bit := 0
		for x&0x80 == 0 {
			x <<= 1
			bit++
		}
		return i*8 + bit
	}
	return Size * 8
}

// ByCloseness sorts a slice of ids ascending by XOR distance to target,
// tie-breaking via CloserTo's lexicographic rule. It is the Go analogue of
// the original's NodeId::CloserToTarget-driven std::sort comparator.
func ByCloseness(ids []Id, target Id) {
	sortByCloseness(ids, target)
}
