// Package he defines the capability interface the matching protocol requires
// from a homomorphic encryption engine.
//
// The protocol treats the engine as an opaque collaborator: it supplies
// encrypt/decrypt, the homomorphic evaluation primitives, and key-switch
// generation, and the protocol layers above it never inspect key or
// ciphertext internals. Two implementations ship with this module: the
// lattice engine (production, CKKS via lattigo) and the mockhe engine
// (deterministic, test-only). Which one is live is decided at construction
// time by dependency injection, never by a package-level flag.
package he

import "fmt"

// Opaque handles produced and consumed by an Engine. A handle is only
// meaningful to the engine that produced it; engines return an *Error when
// handed a foreign handle.
type (
	// SecretKey is an opaque handle to secret key material. It must never
	// leave its owning principal except as key-switch derivation input.
	SecretKey interface{}

	// PublicKey is an opaque handle to shareable public-key material.
	PublicKey interface{}

	// SwitchKey is an opaque handle to key-switching material converting
	// ciphertexts from one secret to another.
	SwitchKey interface{}

	// RotationKeySet is an opaque handle to the evaluation keys enabling
	// slot rotation (and relinearization) under one secret.
	RotationKeySet interface{}

	// Ciphertext is an opaque encrypted payload.
	Ciphertext interface{}
)

// KeyPair couples the shareable public component with the secret component.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// Engine is the homomorphic encryption capability the protocol consumes.
//
// Implementations must be safe for concurrent use: the batch scheduler calls
// Encrypt, the Eval* operations, and Decrypt from multiple workers at once.
type Engine interface {
	// Name identifies the engine implementation, for logs and stats.
	Name() string

	// Slots returns the number of packed plaintext slots per ciphertext.
	Slots() int

	// KeyGen generates a fresh key pair.
	KeyGen() (KeyPair, error)

	// RotationKeyGen derives the evaluation keys enabling Rotate by each of
	// the given shifts (and relinearization after Mul) under sk.
	RotationKeyGen(sk SecretKey, shifts []int) (RotationKeySet, error)

	// Encrypt packs values into slots and encrypts them under pk. Values
	// shorter than Slots() are zero-padded.
	Encrypt(pk PublicKey, values []float64) (Ciphertext, error)

	// Decrypt decrypts ct under sk and decodes all slots.
	Decrypt(sk SecretKey, ct Ciphertext) ([]float64, error)

	// Add, Sub and Mul are slot-wise homomorphic operations. Both operands
	// must be valid under the same secret; the engine does not verify this,
	// the protocol guarantees it by construction.
	Add(a, b Ciphertext) (Ciphertext, error)
	Sub(a, b Ciphertext) (Ciphertext, error)
	Mul(a, b Ciphertext) (Ciphertext, error)

	// Rotate cyclically shifts the slots of ct by shift positions using rks.
	Rotate(ct Ciphertext, shift int, rks RotationKeySet) (Ciphertext, error)

	// KeySwitchGen derives switching material converting ciphertexts valid
	// under from into ciphertexts valid under to.
	KeySwitchGen(from, to SecretKey) (SwitchKey, error)

	// KeySwitch applies switching material to ct without decrypting it.
	KeySwitch(ct Ciphertext, swk SwitchKey) (Ciphertext, error)

	// Wire forms. Serialized keys and ciphertexts are opaque byte blobs.
	MarshalPublicKey(pk PublicKey) ([]byte, error)
	UnmarshalPublicKey(data []byte) (PublicKey, error)
	MarshalCiphertext(ct Ciphertext) ([]byte, error)
	UnmarshalCiphertext(data []byte) (Ciphertext, error)
}

// Error reports a failed engine operation.
type Error struct {
	Engine string // engine name
	Op     string // operation that failed
	Err    error  // underlying cause
}

func (e *Error) Error() string {
	return fmt.Sprintf("he: %s.%s: %v", e.Engine, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an engine Error from a format string.
func Errorf(engine, op, format string, args ...any) error {
	return &Error{Engine: engine, Op: op, Err: fmt.Errorf(format, args...)}
}
