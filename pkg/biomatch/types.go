package biomatch

import (
	"fmt"
	"math"

	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
)

// EmbeddingDim is the fixed length of the face embeddings this protocol
// operates on. Embeddings of any other length are rejected.
const EmbeddingDim = 512

// KeyIdentity tags which secret a ciphertext is valid under. Every ciphertext
// carries exactly one identity, and binary homomorphic operations are only
// meaningful between ciphertexts sharing the same identity.
type KeyIdentity string

// KeyServer is the identity of the server's master key.
const KeyServer KeyIdentity = "server"

// UserKey returns the key identity for a user key generation. Each rotation
// produces a new key ID and therefore a new identity.
func UserKey(keyID string) KeyIdentity {
	return KeyIdentity("user:" + keyID)
}

// IsServer reports whether the identity is the server's master key.
func (k KeyIdentity) IsServer() bool { return k == KeyServer }

// Ciphertext is an engine-opaque payload tagged with the key identity it is
// valid under. The tag is what lets the protocol enforce, by construction,
// that homomorphic operations never mix keys.
type Ciphertext struct {
	Key KeyIdentity
	CT  he.Ciphertext
}

// CheckEmbedding validates that vec has the expected dimension. It returns an
// error wrapping ErrDimension otherwise.
func CheckEmbedding(vec []float64) error {
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), EmbeddingDim)
	}
	return nil
}

// Normalize returns an L2-normalized copy of vec. A zero vector is returned
// unchanged.
func Normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float64, len(vec))
	if sum == 0 {
		copy(out, vec)
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// RotationShifts returns the power-of-two rotation shifts {1, 2, 4, ...}
// strictly below dim. These are the shifts the rotate-and-sum distance
// reduction needs: log2(dim) rotations instead of dim-1.
func RotationShifts(dim int) []int {
	var shifts []int
	for s := 1; s < dim; s <<= 1 {
		shifts = append(shifts, s)
	}
	return shifts
}
