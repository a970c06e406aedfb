// Package lattice implements the he.Engine capability on the CKKS scheme
// from lattigo.
//
// CKKS packs real vectors into polynomial slots and supports approximate
// slot-wise addition, multiplication, and cyclic slot rotation, which is
// exactly the primitive set the distance protocol needs. Key switching is
// realized with rlwe evaluation keys generated from the source and target
// secrets.
package lattice

import (
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/ckks"

	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
)

const engineName = "lattice"

// Params selects the CKKS parameter profile.
type Params struct {
	// LogN is the base-two logarithm of the ring degree. Slot count is
	// 2^(LogN-1).
	LogN int

	// MultiplicativeDepth is the number of sequential multiplications the
	// modulus chain supports. The distance circuit consumes one level.
	MultiplicativeDepth int
}

type secretKey struct{ sk *rlwe.SecretKey }
type publicKey struct{ pk *rlwe.PublicKey }
type switchKey struct{ evk *rlwe.EvaluationKey }
type rotationKeySet struct{ evk *rlwe.MemEvaluationKeySet }
type ciphertext struct{ ct *rlwe.Ciphertext }

// Engine is a lattigo-backed he.Engine. It is safe for concurrent use:
// encoders and evaluators are pooled via ShallowCopy, and encryptors and
// decryptors are instantiated per call.
type Engine struct {
	params ckks.Parameters

	encoders   sync.Pool // *ckks.Encoder
	evaluators sync.Pool // *ckks.Evaluator, keyless

	mu    sync.RWMutex
	relin *rlwe.MemEvaluationKeySet // set by RotationKeyGen, used by Mul
}

// New builds an engine for the given parameter profile.
func New(p Params) (*Engine, error) {
	logQ := make([]int, 1, p.MultiplicativeDepth+1)
	logQ[0] = 55
	for i := 0; i < p.MultiplicativeDepth; i++ {
		logQ = append(logQ, 45)
	}
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            p.LogN,
		LogQ:            logQ,
		LogP:            []int{61},
		LogDefaultScale: 45,
	})
	if err != nil {
		return nil, he.Errorf(engineName, "New", "invalid CKKS parameters: %v", err)
	}

	e := &Engine{params: params}
	baseEncoder := ckks.NewEncoder(params)
	e.encoders.New = func() any { return baseEncoder.ShallowCopy() }
	baseEval := ckks.NewEvaluator(params, nil)
	e.evaluators.New = func() any { return baseEval.ShallowCopy() }
	return e, nil
}

func (e *Engine) Name() string { return engineName }

func (e *Engine) Slots() int { return e.params.MaxSlots() }

func (e *Engine) KeyGen() (he.KeyPair, error) {
	kgen := rlwe.NewKeyGenerator(e.params)
	sk, pk := kgen.GenKeyPairNew()
	return he.KeyPair{
		Public: publicKey{pk: pk},
		Secret: secretKey{sk: sk},
	}, nil
}

func (e *Engine) RotationKeyGen(sk he.SecretKey, shifts []int) (he.RotationKeySet, error) {
	s, err := e.secret("RotationKeyGen", sk)
	if err != nil {
		return nil, err
	}
	kgen := rlwe.NewKeyGenerator(e.params)
	galEls := e.params.GaloisElements(shifts)
	gks := kgen.GenGaloisKeysNew(galEls, s.sk)
	rlk := kgen.GenRelinearizationKeyNew(s.sk)
	set := rlwe.NewMemEvaluationKeySet(rlk, gks...)

	// Mul relinearizes with the most recently generated set, mirroring how a
	// scheme context installs evaluation keys once at setup.
	e.mu.Lock()
	e.relin = set
	e.mu.Unlock()

	return rotationKeySet{evk: set}, nil
}

func (e *Engine) Encrypt(pk he.PublicKey, values []float64) (he.Ciphertext, error) {
	p, ok := pk.(publicKey)
	if !ok {
		return nil, he.Errorf(engineName, "Encrypt", "foreign public key handle %T", pk)
	}
	if len(values) > e.params.MaxSlots() {
		return nil, he.Errorf(engineName, "Encrypt", "%d values exceed %d slots", len(values), e.params.MaxSlots())
	}

	padded := make([]float64, e.params.MaxSlots())
	copy(padded, values)

	pt := ckks.NewPlaintext(e.params, e.params.MaxLevel())
	ecd := e.encoders.Get().(*ckks.Encoder)
	defer e.encoders.Put(ecd)
	if err := ecd.Encode(padded, pt); err != nil {
		return nil, e.wrap("Encrypt", err)
	}

	ct, err := rlwe.NewEncryptor(e.params, p.pk).EncryptNew(pt)
	if err != nil {
		return nil, e.wrap("Encrypt", err)
	}
	return ciphertext{ct: ct}, nil
}

func (e *Engine) Decrypt(sk he.SecretKey, ct he.Ciphertext) ([]float64, error) {
	s, err := e.secret("Decrypt", sk)
	if err != nil {
		return nil, err
	}
	c, err := e.cipher("Decrypt", ct)
	if err != nil {
		return nil, err
	}

	pt := rlwe.NewDecryptor(e.params, s.sk).DecryptNew(c.ct)
	values := make([]float64, e.params.MaxSlots())
	ecd := e.encoders.Get().(*ckks.Encoder)
	defer e.encoders.Put(ecd)
	if err := ecd.Decode(pt, values); err != nil {
		return nil, e.wrap("Decrypt", err)
	}
	return values, nil
}

func (e *Engine) Add(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := e.pair("Add", a, b)
	if err != nil {
		return nil, err
	}
	eval := e.evaluators.Get().(*ckks.Evaluator)
	defer e.evaluators.Put(eval)
	out, err := eval.AddNew(ca.ct, cb.ct)
	if err != nil {
		return nil, e.wrap("Add", err)
	}
	return ciphertext{ct: out}, nil
}

func (e *Engine) Sub(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := e.pair("Sub", a, b)
	if err != nil {
		return nil, err
	}
	eval := e.evaluators.Get().(*ckks.Evaluator)
	defer e.evaluators.Put(eval)
	out, err := eval.SubNew(ca.ct, cb.ct)
	if err != nil {
		return nil, e.wrap("Sub", err)
	}
	return ciphertext{ct: out}, nil
}

func (e *Engine) Mul(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := e.pair("Mul", a, b)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	relin := e.relin
	e.mu.RUnlock()
	if relin == nil {
		return nil, he.Errorf(engineName, "Mul", "relinearization keys not generated")
	}

	eval := e.evaluators.Get().(*ckks.Evaluator)
	defer e.evaluators.Put(eval)
	out, err := eval.WithKey(relin).MulRelinNew(ca.ct, cb.ct)
	if err != nil {
		return nil, e.wrap("Mul", err)
	}
	return ciphertext{ct: out}, nil
}

func (e *Engine) Rotate(ct he.Ciphertext, shift int, rks he.RotationKeySet) (he.Ciphertext, error) {
	c, err := e.cipher("Rotate", ct)
	if err != nil {
		return nil, err
	}
	set, ok := rks.(rotationKeySet)
	if !ok {
		return nil, he.Errorf(engineName, "Rotate", "foreign rotation key handle %T", rks)
	}

	eval := e.evaluators.Get().(*ckks.Evaluator)
	defer e.evaluators.Put(eval)
	out, err := eval.WithKey(set.evk).RotateNew(c.ct, shift)
	if err != nil {
		return nil, e.wrap("Rotate", err)
	}
	return ciphertext{ct: out}, nil
}

func (e *Engine) KeySwitchGen(from, to he.SecretKey) (he.SwitchKey, error) {
	f, err := e.secret("KeySwitchGen", from)
	if err != nil {
		return nil, err
	}
	t, err := e.secret("KeySwitchGen", to)
	if err != nil {
		return nil, err
	}
	kgen := rlwe.NewKeyGenerator(e.params)
	evk := kgen.GenEvaluationKeyNew(f.sk, t.sk)
	return switchKey{evk: evk}, nil
}

func (e *Engine) KeySwitch(ct he.Ciphertext, swk he.SwitchKey) (he.Ciphertext, error) {
	c, err := e.cipher("KeySwitch", ct)
	if err != nil {
		return nil, err
	}
	k, ok := swk.(switchKey)
	if !ok {
		return nil, he.Errorf(engineName, "KeySwitch", "foreign switch key handle %T", swk)
	}

	eval := e.evaluators.Get().(*ckks.Evaluator)
	defer e.evaluators.Put(eval)
	out, err := eval.ApplyEvaluationKeyNew(c.ct, k.evk)
	if err != nil {
		return nil, e.wrap("KeySwitch", err)
	}
	return ciphertext{ct: out}, nil
}

func (e *Engine) MarshalPublicKey(pk he.PublicKey) ([]byte, error) {
	p, ok := pk.(publicKey)
	if !ok {
		return nil, he.Errorf(engineName, "MarshalPublicKey", "foreign public key handle %T", pk)
	}
	data, err := p.pk.MarshalBinary()
	if err != nil {
		return nil, e.wrap("MarshalPublicKey", err)
	}
	return data, nil
}

func (e *Engine) UnmarshalPublicKey(data []byte) (he.PublicKey, error) {
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, e.wrap("UnmarshalPublicKey", err)
	}
	return publicKey{pk: pk}, nil
}

func (e *Engine) MarshalCiphertext(ct he.Ciphertext) ([]byte, error) {
	c, err := e.cipher("MarshalCiphertext", ct)
	if err != nil {
		return nil, err
	}
	data, err := c.ct.MarshalBinary()
	if err != nil {
		return nil, e.wrap("MarshalCiphertext", err)
	}
	return data, nil
}

func (e *Engine) UnmarshalCiphertext(data []byte) (he.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, e.wrap("UnmarshalCiphertext", err)
	}
	return ciphertext{ct: ct}, nil
}

func (e *Engine) pair(op string, a, b he.Ciphertext) (ciphertext, ciphertext, error) {
	ca, err := e.cipher(op, a)
	if err != nil {
		return ciphertext{}, ciphertext{}, err
	}
	cb, err := e.cipher(op, b)
	if err != nil {
		return ciphertext{}, ciphertext{}, err
	}
	return ca, cb, nil
}

func (e *Engine) secret(op string, sk he.SecretKey) (secretKey, error) {
	s, ok := sk.(secretKey)
	if !ok {
		return secretKey{}, he.Errorf(engineName, op, "foreign secret key handle %T", sk)
	}
	return s, nil
}

func (e *Engine) cipher(op string, ct he.Ciphertext) (ciphertext, error) {
	c, ok := ct.(ciphertext)
	if !ok {
		return ciphertext{}, he.Errorf(engineName, op, "foreign ciphertext handle %T", ct)
	}
	return c, nil
}

func (e *Engine) wrap(op string, err error) error {
	return &he.Error{Engine: engineName, Op: op, Err: err}
}
