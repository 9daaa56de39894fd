// Package sha256 digests stored fragments.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Hasher implements harvest.Hasher using SHA-256.
type Hasher struct{}

var _ harvest.Hasher = Hasher{}

// New returns a SHA-256 hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex digest of a fragment. Identical fragments always
// produce identical digests, which lets consumers skip unchanged artifacts.
func (Hasher) Hash(fragment []byte) (string, error) {
	sum := sha256.Sum256(fragment)
	return hex.EncodeToString(sum[:]), nil
}
