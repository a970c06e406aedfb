// Package keyring owns all server-side key material: the server's master key
// pair and rotation keys, and the registry of user public-key records.
//
// It is the single source of truth for key identity and rotation state. User
// secret keys are never stored here; GenerateUserKeyPair hands the secret
// straight back to the caller and retains only the public record.
package keyring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
	"github.com/biomatch/biomatch-go/pkg/biomatch/logging"
)

// UserKeyRecord is the stored public-side view of a user key generation.
type UserKeyRecord struct {
	UserID     string    `json:"user_id"`
	KeyID      string    `json:"key_id"`
	PublicKey  []byte    `json:"public_key"`
	CreatedAt  time.Time `json:"created_at"`
	Generation int       `json:"generation"`
}

// Identity returns the key identity ciphertexts encrypted under this record's
// key carry.
func (r UserKeyRecord) Identity() biomatch.KeyIdentity {
	return biomatch.UserKey(r.KeyID)
}

// Rotated reports whether this record has been superseded by a rotation.
func (r UserKeyRecord) Rotated() bool {
	return strings.Contains(r.KeyID, rotatedMark)
}

// KeyInfo summarizes the age and rotation state of a user's current key.
type KeyInfo struct {
	UserID        string        `json:"user_id"`
	KeyID         string        `json:"key_id"`
	Age           time.Duration `json:"age"`
	NeedsRotation bool          `json:"needs_rotation"`
}

const rotatedMark = "_rotated_"

type serverKeys struct {
	pair he.KeyPair
	rks  he.RotationKeySet
}

// Registry owns the server key material and user key records. All methods
// are safe for concurrent use; rotation holds the write lock for the whole
// swap so secret-adjacent state is never observed mid-mutation.
type Registry struct {
	eng            he.Engine
	log            logging.Logger
	now            func() time.Time
	rotationPeriod time.Duration
	retention      time.Duration

	mu         sync.RWMutex
	server     *serverKeys
	users      map[string]*UserKeyRecord
	superseded []*UserKeyRecord
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger. Defaults to the slog default logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New builds a Registry on the given engine and configuration.
func New(eng he.Engine, cfg biomatch.Config, opts ...Option) *Registry {
	r := &Registry{
		eng:            eng,
		log:            logging.New(nil),
		now:            time.Now,
		rotationPeriod: cfg.RotationPeriod(),
		retention:      cfg.Retention(),
		users:          make(map[string]*UserKeyRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitializeServerKeys generates the server key pair and the rotation key set
// used by the distance reduction. It is idempotent: once keys exist, further
// calls are no-ops.
func (r *Registry) InitializeServerKeys() error {
	const op = "Registry.InitializeServerKeys"

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return nil
	}
	if r.eng == nil {
		return biomatch.E(op, biomatch.ErrEngineUnavailable)
	}

	pair, err := r.eng.KeyGen()
	if err != nil {
		return biomatch.Errorf(op, "%w: %v", biomatch.ErrEngineUnavailable, err)
	}
	rks, err := r.eng.RotationKeyGen(pair.Secret, biomatch.RotationShifts(biomatch.EmbeddingDim))
	if err != nil {
		return biomatch.Errorf(op, "%w: %v", biomatch.ErrEngineUnavailable, err)
	}

	r.server = &serverKeys{pair: pair, rks: rks}
	r.log.Info(context.Background(), "server keys initialized",
		"engine", r.eng.Name(),
		"rotation_shifts", len(biomatch.RotationShifts(biomatch.EmbeddingDim)),
		logging.Redacted("secret_key"),
	)
	return nil
}

// ServerSecret returns the server secret key. Only the key-switch coordinator
// and the distance decryption path may call this; the secret never leaves the
// process.
func (r *Registry) ServerSecret() (he.SecretKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.server == nil {
		return nil, biomatch.E("Registry.ServerSecret", biomatch.ErrMissingServerKeys)
	}
	return r.server.pair.Secret, nil
}

// ServerPublicKey returns the server public key in wire form, for client-side
// template encryption setup.
func (r *Registry) ServerPublicKey() ([]byte, error) {
	const op = "Registry.ServerPublicKey"
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.server == nil {
		return nil, biomatch.E(op, biomatch.ErrMissingServerKeys)
	}
	data, err := r.eng.MarshalPublicKey(r.server.pair.Public)
	if err != nil {
		return nil, biomatch.E(op, err)
	}
	return data, nil
}

// ServerPublic returns the server public key handle.
func (r *Registry) ServerPublic() (he.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.server == nil {
		return nil, biomatch.E("Registry.ServerPublic", biomatch.ErrMissingServerKeys)
	}
	return r.server.pair.Public, nil
}

// RotationKeys returns the server rotation key set.
func (r *Registry) RotationKeys() (he.RotationKeySet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.server == nil {
		return nil, biomatch.E("Registry.RotationKeys", biomatch.ErrMissingRotationKeys)
	}
	return r.server.rks, nil
}

// RegisterUser stores a user's public key record. A prior record for the same
// user is overwritten, last write wins.
func (r *Registry) RegisterUser(userID string, publicKey []byte, keyID string) (UserKeyRecord, error) {
	const op = "Registry.RegisterUser"
	if userID == "" {
		return UserKeyRecord{}, biomatch.Errorf(op, "empty user id")
	}
	if keyID == "" {
		keyID = newKeyID(userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	gen := 1
	if prev, ok := r.users[userID]; ok {
		gen = prev.Generation + 1
	}
	rec := &UserKeyRecord{
		UserID:     userID,
		KeyID:      keyID,
		PublicKey:  publicKey,
		CreatedAt:  r.now(),
		Generation: gen,
	}
	r.users[userID] = rec
	r.log.Info(context.Background(), "registered user public key", "user_id", userID, "key_id", keyID, "generation", gen)
	return *rec, nil
}

// GenerateUserKeyPair generates a key pair for a user server-side and
// registers the public record. The secret key is returned to the caller and
// not retained; in production the client generates its own pair and only
// RegisterUser is used.
func (r *Registry) GenerateUserKeyPair(userID string) (UserKeyRecord, he.SecretKey, error) {
	const op = "Registry.GenerateUserKeyPair"
	if r.eng == nil {
		return UserKeyRecord{}, nil, biomatch.E(op, biomatch.ErrEngineUnavailable)
	}
	pair, err := r.eng.KeyGen()
	if err != nil {
		return UserKeyRecord{}, nil, biomatch.Errorf(op, "%w: %v", biomatch.ErrEngineUnavailable, err)
	}
	wire, err := r.eng.MarshalPublicKey(pair.Public)
	if err != nil {
		return UserKeyRecord{}, nil, biomatch.E(op, err)
	}
	rec, err := r.RegisterUser(userID, wire, newKeyID(userID))
	if err != nil {
		return UserKeyRecord{}, nil, err
	}
	return rec, pair.Secret, nil
}

// RotateUserKey generates a fresh key pair for the user. The previous record
// is never deleted: its key ID gains a rotation mark and it is retained for
// the retention window for audit. Rotating a never-registered user fails with
// ErrUnknownUser.
func (r *Registry) RotateUserKey(userID string) (UserKeyRecord, he.SecretKey, error) {
	const op = "Registry.RotateUserKey"
	if r.eng == nil {
		return UserKeyRecord{}, nil, biomatch.E(op, biomatch.ErrEngineUnavailable)
	}
	if _, ok := r.Lookup(userID); !ok {
		return UserKeyRecord{}, nil, biomatch.E(op, biomatch.ErrUnknownUser)
	}

	// Generate outside the lock; key generation is the slow part and touches
	// no registry state.
	pair, err := r.eng.KeyGen()
	if err != nil {
		return UserKeyRecord{}, nil, biomatch.Errorf(op, "%w: %v", biomatch.ErrEngineUnavailable, err)
	}
	wire, err := r.eng.MarshalPublicKey(pair.Public)
	if err != nil {
		return UserKeyRecord{}, nil, biomatch.E(op, err)
	}

	// The swap itself is a single critical section: no reader may observe
	// the record between supersession and replacement.
	r.mu.Lock()
	prev, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return UserKeyRecord{}, nil, biomatch.E(op, biomatch.ErrUnknownUser)
	}
	old := *prev
	old.KeyID = old.KeyID + rotatedMark + fmt.Sprint(r.now().Unix())
	r.superseded = append(r.superseded, &old)

	rec := &UserKeyRecord{
		UserID:     userID,
		KeyID:      newKeyID(userID),
		PublicKey:  wire,
		CreatedAt:  r.now(),
		Generation: prev.Generation + 1,
	}
	r.users[userID] = rec
	r.mu.Unlock()

	r.log.Info(context.Background(), "rotated user key",
		"user_id", userID,
		"old_key_id", old.KeyID,
		"new_key_id", rec.KeyID,
		logging.Redacted("secret_key"),
	)
	return *rec, pair.Secret, nil
}

// Lookup returns the current record for a user.
func (r *Registry) Lookup(userID string) (UserKeyRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return UserKeyRecord{}, false
	}
	return *rec, true
}

// Superseded returns the retained rotated-out records for a user, oldest
// first.
func (r *Registry) Superseded(userID string) []UserKeyRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []UserKeyRecord
	for _, rec := range r.superseded {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out
}

// KeyInfo reports the age of the user's current key and whether it has
// outlived the rotation period.
func (r *Registry) KeyInfo(userID string) (KeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return KeyInfo{}, biomatch.E("Registry.KeyInfo", biomatch.ErrUnknownUser)
	}
	age := r.now().Sub(rec.CreatedAt)
	return KeyInfo{
		UserID:        userID,
		KeyID:         rec.KeyID,
		Age:           age,
		NeedsRotation: age > r.rotationPeriod,
	}, nil
}

// PurgeSuperseded drops rotated-out records older than the retention window
// and returns how many were removed. Driven by an external scheduler.
func (r *Registry) PurgeSuperseded(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.superseded[:0]
	purged := 0
	for _, rec := range r.superseded {
		if now.Sub(rec.CreatedAt) > r.retention {
			// Purged records leave no key material behind.
			biomatch.ZeroizeBytes(rec.PublicKey)
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	r.superseded = kept
	if purged > 0 {
		r.log.Info(context.Background(), "purged superseded key records", "count", purged)
	}
	return purged
}

func newKeyID(userID string) string {
	return userID + "_" + uuid.NewString()[:8]
}
