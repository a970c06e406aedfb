package keyring_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he/mockhe"
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyring"
)

func newRegistry(t *testing.T, opts ...keyring.Option) (*keyring.Registry, *mockhe.Engine) {
	t.Helper()
	eng := mockhe.New(biomatch.EmbeddingDim)
	return keyring.New(eng, biomatch.DefaultConfig(), opts...), eng
}

func TestInitializeServerKeysIdempotent(t *testing.T) {
	reg, eng := newRegistry(t)

	require.NoError(t, reg.InitializeServerKeys())
	require.NoError(t, reg.InitializeServerKeys())
	require.Equal(t, 1, eng.Counters().KeyGens, "second call must not regenerate")

	sk, err := reg.ServerSecret()
	require.NoError(t, err)
	require.NotNil(t, sk)

	wire, err := reg.ServerPublicKey()
	require.NoError(t, err)
	require.NotEmpty(t, wire)

	rks, err := reg.RotationKeys()
	require.NoError(t, err)
	require.NotNil(t, rks)
}

func TestServerKeyAccessBeforeInit(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.ServerSecret()
	require.ErrorIs(t, err, biomatch.ErrMissingServerKeys)
	_, err = reg.ServerPublicKey()
	require.ErrorIs(t, err, biomatch.ErrMissingServerKeys)
	_, err = reg.RotationKeys()
	require.ErrorIs(t, err, biomatch.ErrMissingRotationKeys)
}

func TestRegisterUserLastWriteWins(t *testing.T) {
	reg, _ := newRegistry(t)

	first, err := reg.RegisterUser("alice", []byte("pk-1"), "key-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Generation)

	second, err := reg.RegisterUser("alice", []byte("pk-2"), "key-2")
	require.NoError(t, err)
	require.Equal(t, 2, second.Generation)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "key-2", got.KeyID)
	require.Equal(t, []byte("pk-2"), got.PublicKey)
}

func TestRegisterUserEmptyID(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := reg.RegisterUser("", []byte("pk"), "")
	require.Error(t, err)
}

func TestGenerateUserKeyPair(t *testing.T) {
	reg, _ := newRegistry(t)

	rec, secret, err := reg.GenerateUserKeyPair("alice")
	require.NoError(t, err)
	require.NotNil(t, secret, "secret is handed back, not retained")
	require.Equal(t, "alice", rec.UserID)
	require.True(t, strings.HasPrefix(rec.KeyID, "alice_"))
	require.True(t, strings.HasPrefix(string(rec.Identity()), "user:"))

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, rec.KeyID, got.KeyID)
}

func TestRotateUserKey(t *testing.T) {
	reg, _ := newRegistry(t)

	old, _, err := reg.GenerateUserKeyPair("alice")
	require.NoError(t, err)

	rotated, secret, err := reg.RotateUserKey("alice")
	require.NoError(t, err)
	require.NotNil(t, secret)
	require.NotEqual(t, old.KeyID, rotated.KeyID)
	require.Equal(t, old.Generation+1, rotated.Generation)

	// The old record survives, marked, for the retention window.
	super := reg.Superseded("alice")
	require.Len(t, super, 1)
	require.True(t, super[0].Rotated())
	require.True(t, strings.HasPrefix(super[0].KeyID, old.KeyID))

	current, ok := reg.Lookup("alice")
	require.True(t, ok)
	require.False(t, current.Rotated())
	require.Equal(t, rotated.KeyID, current.KeyID)
}

func TestRotateUnknownUser(t *testing.T) {
	reg, _ := newRegistry(t)
	_, _, err := reg.RotateUserKey("nobody")
	require.ErrorIs(t, err, biomatch.ErrUnknownUser)
}

func TestKeyInfo(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg, _ := newRegistry(t, keyring.WithClock(clock))

	_, _, err := reg.GenerateUserKeyPair("alice")
	require.NoError(t, err)

	info, err := reg.KeyInfo("alice")
	require.NoError(t, err)
	require.False(t, info.NeedsRotation)
	require.Zero(t, info.Age)

	// Advance past the 90-day rotation period.
	now = now.Add(91 * 24 * time.Hour)
	info, err = reg.KeyInfo("alice")
	require.NoError(t, err)
	require.True(t, info.NeedsRotation)
	require.Equal(t, 91*24*time.Hour, info.Age)

	_, err = reg.KeyInfo("nobody")
	require.ErrorIs(t, err, biomatch.ErrUnknownUser)
}

func TestPurgeSuperseded(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created
	reg, _ := newRegistry(t, keyring.WithClock(func() time.Time { return now }))

	_, _, err := reg.GenerateUserKeyPair("alice")
	require.NoError(t, err)
	_, _, err = reg.RotateUserKey("alice")
	require.NoError(t, err)
	require.Len(t, reg.Superseded("alice"), 1)

	// Inside the retention window nothing is purged.
	retention := biomatch.DefaultConfig().Retention()
	require.Zero(t, reg.PurgeSuperseded(created.Add(retention)))
	require.Len(t, reg.Superseded("alice"), 1)

	require.Equal(t, 1, reg.PurgeSuperseded(created.Add(retention+time.Hour)))
	require.Empty(t, reg.Superseded("alice"))
}

func TestEngineUnavailable(t *testing.T) {
	reg := keyring.New(nil, biomatch.DefaultConfig())

	err := reg.InitializeServerKeys()
	require.Error(t, err)
	require.True(t, errors.Is(err, biomatch.ErrEngineUnavailable))

	_, _, err = reg.GenerateUserKeyPair("alice")
	require.ErrorIs(t, err, biomatch.ErrEngineUnavailable)
}

func TestRecordWireRoundTrip(t *testing.T) {
	reg, _ := newRegistry(t)
	rec, _, err := reg.GenerateUserKeyPair("alice")
	require.NoError(t, err)

	data, err := keyring.MarshalRecord(rec)
	require.NoError(t, err)
	require.Contains(t, string(data), `"user_id":"alice"`)

	got, err := keyring.UnmarshalRecord(data)
	require.NoError(t, err)
	require.Equal(t, rec.KeyID, got.KeyID)
	require.Equal(t, rec.PublicKey, got.PublicKey)
	require.Equal(t, rec.Generation, got.Generation)
	require.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, err = keyring.UnmarshalRecord([]byte(`{"public_key": "!!"}`))
	require.Error(t, err)
}
