// Package distance computes encrypted squared Euclidean distances between
// packed embeddings under the server key.
package distance

import (
	"math"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
)

// Engine evaluates the distance circuit. Safe for concurrent use as long as
// the underlying he.Engine is.
type Engine struct {
	eng he.Engine
	rks he.RotationKeySet
	dim int
}

// New builds a distance engine over the server rotation key set. rks may be
// nil; Distance then fails with ErrMissingRotationKeys.
func New(eng he.Engine, rks he.RotationKeySet) *Engine {
	return &Engine{eng: eng, rks: rks, dim: biomatch.EmbeddingDim}
}

// Distance returns the encrypted squared Euclidean distance between a and b.
//
// Both operands must carry the server key identity. The circuit is
//
//	diff = a - b
//	sq   = diff * diff
//	for s in {1, 2, 4, ..., dim/2}: sq += rotate(sq, s)
//
// The log2(dim) power-of-two rotations perform a tree reduction across the
// embedding slots; rotations dominate the cost of the scheme, so this beats
// a rotate-by-one loop by a factor of dim/log2(dim). The result carries the
// sum replicated across slots; callers read slot zero after decryption.
func (e *Engine) Distance(a, b biomatch.Ciphertext) (biomatch.Ciphertext, error) {
	const op = "Distance"

	if !a.Key.IsServer() || !b.Key.IsServer() {
		return biomatch.Ciphertext{}, biomatch.Errorf(op, "%w: operands under %q and %q, want %q",
			biomatch.ErrKeyMismatch, a.Key, b.Key, biomatch.KeyServer)
	}
	if e.rks == nil {
		return biomatch.Ciphertext{}, biomatch.E(op, biomatch.ErrMissingRotationKeys)
	}

	diff, err := e.eng.Sub(a.CT, b.CT)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	sq, err := e.eng.Mul(diff, diff)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}

	for _, s := range biomatch.RotationShifts(e.dim) {
		rot, err := e.eng.Rotate(sq, s, e.rks)
		if err != nil {
			return biomatch.Ciphertext{}, biomatch.E(op, err)
		}
		sq, err = e.eng.Add(sq, rot)
		if err != nil {
			return biomatch.Ciphertext{}, biomatch.E(op, err)
		}
	}

	return biomatch.Ciphertext{Key: biomatch.KeyServer, CT: sq}, nil
}

// DecryptDistance decrypts a distance ciphertext with the server secret and
// returns the value in slot zero. A missing secret fails with
// ErrKeysNotReady; a non-finite decoded value, the signature of noise
// exhaustion, fails with ErrCorruptResult.
func (e *Engine) DecryptDistance(sk he.SecretKey, ct biomatch.Ciphertext) (float64, error) {
	const op = "DecryptDistance"

	if sk == nil {
		return 0, biomatch.E(op, biomatch.ErrKeysNotReady)
	}
	if !ct.Key.IsServer() {
		return 0, biomatch.Errorf(op, "%w: result under %q, want %q", biomatch.ErrKeyMismatch, ct.Key, biomatch.KeyServer)
	}

	values, err := e.eng.Decrypt(sk, ct.CT)
	if err != nil {
		return 0, biomatch.E(op, err)
	}
	if len(values) == 0 {
		return 0, biomatch.E(op, biomatch.ErrCorruptResult)
	}
	d := values[0]
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, biomatch.Errorf(op, "%w: decoded %v", biomatch.ErrCorruptResult, d)
	}
	// Approximation noise can push a true zero slightly negative.
	if d < 0 {
		d = 0
	}
	return d, nil
}
