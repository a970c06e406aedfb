// Package mockhe provides a deterministic, plaintext-backed implementation of
// the he.Engine capability for tests and demos.
//
// Ciphertexts are plain float vectors tagged with the id of the key that
// "encrypted" them. The tag lets the mock fail loudly when a test drives the
// protocol into a cross-key operation; a real scheme would silently produce
// noise instead. This engine offers no confidentiality whatsoever and must
// never be selected in a production build.
package mockhe

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
)

const engineName = "mockhe"

type secretKey struct{ id int }
type publicKey struct{ id int }

type ciphertext struct {
	key  int
	vals []float64
}

type switchKey struct{ from, to int }

type rotationKeys struct {
	key    int
	shifts map[int]struct{}
}

// Counters records how many times each engine operation ran. Tests use it to
// assert, for example, that a rejected authentication performed zero
// homomorphic operations.
type Counters struct {
	KeyGens  int
	Encrypts int
	Decrypts int
	Adds     int
	Subs     int
	Muls     int
	Rotates  int
	Switches int
}

// Engine is a deterministic in-memory he.Engine.
type Engine struct {
	mu       sync.Mutex
	slots    int
	nextKey  int
	counters Counters
}

// New returns a mock engine packing the given number of slots per ciphertext.
func New(slots int) *Engine {
	return &Engine{slots: slots}
}

// Counters returns a snapshot of the operation counters.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

func (e *Engine) Name() string { return engineName }

func (e *Engine) Slots() int { return e.slots }

func (e *Engine) KeyGen() (he.KeyPair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextKey++
	e.counters.KeyGens++
	return he.KeyPair{
		Public: publicKey{id: e.nextKey},
		Secret: secretKey{id: e.nextKey},
	}, nil
}

func (e *Engine) RotationKeyGen(sk he.SecretKey, shifts []int) (he.RotationKeySet, error) {
	s, err := e.secret("RotationKeyGen", sk)
	if err != nil {
		return nil, err
	}
	set := rotationKeys{key: s.id, shifts: make(map[int]struct{}, len(shifts))}
	for _, shift := range shifts {
		set.shifts[shift] = struct{}{}
	}
	return set, nil
}

func (e *Engine) Encrypt(pk he.PublicKey, values []float64) (he.Ciphertext, error) {
	p, ok := pk.(publicKey)
	if !ok {
		return nil, he.Errorf(engineName, "Encrypt", "foreign public key handle %T", pk)
	}
	if len(values) > e.slots {
		return nil, he.Errorf(engineName, "Encrypt", "%d values exceed %d slots", len(values), e.slots)
	}
	vals := make([]float64, e.slots)
	copy(vals, values)
	e.count(func(c *Counters) { c.Encrypts++ })
	return ciphertext{key: p.id, vals: vals}, nil
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
	if c.key != s.id {
		return nil, he.Errorf(engineName, "Decrypt", "ciphertext under key %d, secret is key %d", c.key, s.id)
	}
	out := make([]float64, len(c.vals))
	copy(out, c.vals)
	e.count(func(cn *Counters) { cn.Decrypts++ })
	return out, nil
}

func (e *Engine) Add(a, b he.Ciphertext) (he.Ciphertext, error) {
	return e.binary("Add", a, b, func(x, y float64) float64 { return x + y })
}

func (e *Engine) Sub(a, b he.Ciphertext) (he.Ciphertext, error) {
	return e.binary("Sub", a, b, func(x, y float64) float64 { return x - y })
}

func (e *Engine) Mul(a, b he.Ciphertext) (he.Ciphertext, error) {
	return e.binary("Mul", a, b, func(x, y float64) float64 { return x * y })
}

func (e *Engine) Rotate(ct he.Ciphertext, shift int, rks he.RotationKeySet) (he.Ciphertext, error) {
	c, err := e.cipher("Rotate", ct)
	if err != nil {
		return nil, err
	}
	set, ok := rks.(rotationKeys)
	if !ok {
		return nil, he.Errorf(engineName, "Rotate", "foreign rotation key handle %T", rks)
	}
	if set.key != c.key {
		return nil, he.Errorf(engineName, "Rotate", "rotation keys for key %d, ciphertext under key %d", set.key, c.key)
	}
	if _, ok := set.shifts[shift]; !ok {
		return nil, he.Errorf(engineName, "Rotate", "no rotation key for shift %d", shift)
	}
	n := len(c.vals)
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = c.vals[(i+shift)%n]
	}
	e.count(func(cn *Counters) { cn.Rotates++ })
	return ciphertext{key: c.key, vals: vals}, nil
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
	return switchKey{from: f.id, to: t.id}, nil
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
	if c.key != k.from {
		return nil, he.Errorf(engineName, "KeySwitch", "ciphertext under key %d, switch key converts from key %d", c.key, k.from)
	}
	vals := make([]float64, len(c.vals))
	copy(vals, c.vals)
	e.count(func(cn *Counters) { cn.Switches++ })
	return ciphertext{key: k.to, vals: vals}, nil
}

// MarshalPublicKey encodes the key id. The mock wire format is textual and
// carries no secrets by definition of the engine.
func (e *Engine) MarshalPublicKey(pk he.PublicKey) ([]byte, error) {
	p, ok := pk.(publicKey)
	if !ok {
		return nil, he.Errorf(engineName, "MarshalPublicKey", "foreign public key handle %T", pk)
	}
	return []byte(fmt.Sprintf("mock-pk:%d", p.id)), nil
}

func (e *Engine) UnmarshalPublicKey(data []byte) (he.PublicKey, error) {
	id, err := parseTag("mock-pk", data)
	if err != nil {
		return nil, he.Errorf(engineName, "UnmarshalPublicKey", "%v", err)
	}
	return publicKey{id: id}, nil
}

func (e *Engine) MarshalCiphertext(ct he.Ciphertext) ([]byte, error) {
	c, err := e.cipher("MarshalCiphertext", ct)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "mock-ct:%d", c.key)
	for _, v := range c.vals {
		fmt.Fprintf(&sb, ",%g", v)
	}
	return []byte(sb.String()), nil
}

func (e *Engine) UnmarshalCiphertext(data []byte) (he.Ciphertext, error) {
	parts := strings.Split(string(data), ",")
	id, err := parseTag("mock-ct", []byte(parts[0]))
	if err != nil {
		return nil, he.Errorf(engineName, "UnmarshalCiphertext", "%v", err)
	}
	vals := make([]float64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, he.Errorf(engineName, "UnmarshalCiphertext", "bad slot value %q", p)
		}
		vals = append(vals, v)
	}
	return ciphertext{key: id, vals: vals}, nil
}

func (e *Engine) binary(op string, a, b he.Ciphertext, f func(x, y float64) float64) (he.Ciphertext, error) {
	ca, err := e.cipher(op, a)
	if err != nil {
		return nil, err
	}
	cb, err := e.cipher(op, b)
	if err != nil {
		return nil, err
	}
	if ca.key != cb.key {
		return nil, he.Errorf(engineName, op, "operands under different keys %d and %d", ca.key, cb.key)
	}
	if len(ca.vals) != len(cb.vals) {
		return nil, he.Errorf(engineName, op, "operand slot counts differ")
	}
	vals := make([]float64, len(ca.vals))
	for i := range vals {
		vals[i] = f(ca.vals[i], cb.vals[i])
	}
	e.count(func(c *Counters) {
		switch op {
		case "Add":
			c.Adds++
		case "Sub":
			c.Subs++
		case "Mul":
			c.Muls++
		}
	})
	return ciphertext{key: ca.key, vals: vals}, nil
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

func (e *Engine) count(f func(*Counters)) {
	e.mu.Lock()
	f(&e.counters)
	e.mu.Unlock()
}

func parseTag(prefix string, data []byte) (int, error) {
	s := string(data)
	if !strings.HasPrefix(s, prefix+":") {
		return 0, fmt.Errorf("missing %s tag", prefix)
	}
	return strconv.Atoi(strings.TrimPrefix(s, prefix+":"))
}
