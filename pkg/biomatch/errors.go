package biomatch

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable indicates the HE engine is unreachable or not yet
	// initialized. Fatal to the calling operation; retrying setup may recover.
	ErrEngineUnavailable = errors.New("biomatch: engine unavailable")

	// ErrKeyMismatch indicates a binary homomorphic operation or a conversion
	// was attempted on ciphertexts under different key identities. This is a
	// protocol error and is never silently coerced.
	ErrKeyMismatch = errors.New("biomatch: ciphertext key identity mismatch")

	// ErrMissingRotationKeys indicates no rotation key set exists for the key
	// identity a distance computation requires.
	ErrMissingRotationKeys = errors.New("biomatch: missing rotation keys")

	// ErrMissingServerKeys indicates the server key pair has not been
	// initialized yet.
	ErrMissingServerKeys = errors.New("biomatch: server keys not initialized")

	// ErrKeysNotReady indicates decryption was requested before the required
	// secret key was available.
	ErrKeysNotReady = errors.New("biomatch: keys not ready")

	// ErrUnknownUser indicates no key record exists for the given user.
	ErrUnknownUser = errors.New("biomatch: unknown user")

	// ErrNoSwitchMaterial indicates key-switch material for the user is absent
	// or has expired.
	ErrNoSwitchMaterial = errors.New("biomatch: no key-switch material")

	// ErrDimension indicates an embedding does not have the expected length.
	ErrDimension = errors.New("biomatch: embedding dimension mismatch")

	// ErrCorruptResult indicates a decrypted distance was not a finite number,
	// typically a symptom of noise exhaustion in the scheme.
	ErrCorruptResult = errors.New("biomatch: corrupt decrypted result")

	// ErrAcceleratorFailure indicates the accelerated execution backend failed.
	// Recoverable: the scheduler falls back to the default worker pool.
	ErrAcceleratorFailure = errors.New("biomatch: accelerator backend failure")
)

// Error wraps an underlying error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("biomatch.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with the given operation name. It returns nil if err is nil.
func E(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Errorf builds an operation-scoped error from a format string.
func Errorf(op string, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}
