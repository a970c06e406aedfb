package distance_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/distance"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he/mockhe"
)

func setup(t *testing.T) (*mockhe.Engine, he.KeyPair, he.RotationKeySet) {
	t.Helper()
	eng := mockhe.New(biomatch.EmbeddingDim)
	pair, err := eng.KeyGen()
	require.NoError(t, err)
	rks, err := eng.RotationKeyGen(pair.Secret, biomatch.RotationShifts(biomatch.EmbeddingDim))
	require.NoError(t, err)
	return eng, pair, rks
}

func encrypt(t *testing.T, eng *mockhe.Engine, pk he.PublicKey, vec []float64) biomatch.Ciphertext {
	t.Helper()
	ct, err := eng.Encrypt(pk, vec)
	require.NoError(t, err)
	return biomatch.Ciphertext{Key: biomatch.KeyServer, CT: ct}
}

func TestDistanceMatchesPlaintext(t *testing.T) {
	eng, pair, rks := setup(t)
	d := distance.New(eng, rks)

	rng := rand.New(rand.NewSource(7))
	a := make([]float64, biomatch.EmbeddingDim)
	b := make([]float64, biomatch.EmbeddingDim)
	var want float64
	for i := range a {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		diff := a[i] - b[i]
		want += diff * diff
	}

	ct, err := d.Distance(encrypt(t, eng, pair.Public, a), encrypt(t, eng, pair.Public, b))
	require.NoError(t, err)
	require.Equal(t, biomatch.KeyServer, ct.Key)

	got, err := d.DecryptDistance(pair.Secret, ct)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-9)
}

func TestDistanceZeroForIdenticalInputs(t *testing.T) {
	eng, pair, rks := setup(t)
	d := distance.New(eng, rks)

	vec := make([]float64, biomatch.EmbeddingDim)
	for i := range vec {
		vec[i] = float64(i) / biomatch.EmbeddingDim
	}

	ct, err := d.Distance(encrypt(t, eng, pair.Public, vec), encrypt(t, eng, pair.Public, vec))
	require.NoError(t, err)
	got, err := d.DecryptDistance(pair.Secret, ct)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestDistanceRejectsUserKeyedOperand(t *testing.T) {
	eng, pair, rks := setup(t)
	d := distance.New(eng, rks)

	raw, err := eng.Encrypt(pair.Public, []float64{1})
	require.NoError(t, err)
	userCT := biomatch.Ciphertext{Key: biomatch.UserKey("alice_1"), CT: raw}
	serverCT := encrypt(t, eng, pair.Public, []float64{1})

	_, err = d.Distance(userCT, serverCT)
	require.ErrorIs(t, err, biomatch.ErrKeyMismatch)
	_, err = d.Distance(serverCT, userCT)
	require.ErrorIs(t, err, biomatch.ErrKeyMismatch)
}

func TestDistanceRequiresRotationKeys(t *testing.T) {
	eng, pair, _ := setup(t)
	d := distance.New(eng, nil)

	a := encrypt(t, eng, pair.Public, []float64{1})
	b := encrypt(t, eng, pair.Public, []float64{2})
	_, err := d.Distance(a, b)
	require.ErrorIs(t, err, biomatch.ErrMissingRotationKeys)
}

func TestDecryptDistanceErrors(t *testing.T) {
	eng, pair, rks := setup(t)
	d := distance.New(eng, rks)

	ct := encrypt(t, eng, pair.Public, []float64{1})

	_, err := d.DecryptDistance(nil, ct)
	require.ErrorIs(t, err, biomatch.ErrKeysNotReady)

	raw, err := eng.Encrypt(pair.Public, []float64{1})
	require.NoError(t, err)
	_, err = d.DecryptDistance(pair.Secret, biomatch.Ciphertext{Key: biomatch.UserKey("k"), CT: raw})
	require.ErrorIs(t, err, biomatch.ErrKeyMismatch)
}

func TestDecryptDistanceRejectsNonFinite(t *testing.T) {
	eng, pair, rks := setup(t)
	d := distance.New(eng, rks)

	// A NaN slot is what noise exhaustion looks like after decode.
	raw, err := eng.Encrypt(pair.Public, []float64{math.NaN()})
	require.NoError(t, err)
	_, err = d.DecryptDistance(pair.Secret, biomatch.Ciphertext{Key: biomatch.KeyServer, CT: raw})
	require.ErrorIs(t, err, biomatch.ErrCorruptResult)
}
