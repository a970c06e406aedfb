// Package keyswitch converts ciphertexts encrypted under a user key into
// ciphertexts valid under the server key.
//
// Convert is the single point where cross-key ciphertexts enter the
// server-side computation pool: everything downstream of it may assume every
// ciphertext it touches already carries the server key identity.
package keyswitch

import (
	"context"
	"sync"
	"time"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyring"
	"github.com/biomatch/biomatch-go/pkg/biomatch/logging"
)

// Material is the stored per-user switching state.
type Material struct {
	UserID    string
	FromKey   biomatch.KeyIdentity
	ToKey     biomatch.KeyIdentity
	CreatedAt time.Time

	swk he.SwitchKey
}

// Coordinator derives, stores, and applies per-user key-switch material. Safe
// for concurrent use.
type Coordinator struct {
	eng       he.Engine
	reg       *keyring.Registry
	log       logging.Logger
	now       func() time.Time
	retention time.Duration

	mu        sync.RWMutex
	materials map[string]*Material
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New builds a Coordinator. Switch material expires after cfg.Retention(),
// twice the rotation period under the default multiplier.
func New(eng he.Engine, reg *keyring.Registry, cfg biomatch.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		eng:       eng,
		reg:       reg,
		log:       logging.New(nil),
		now:       time.Now,
		retention: cfg.Retention(),
		materials: make(map[string]*Material),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Derive generates and stores key-switch material converting the user's
// current key generation to the server key.
//
// The derivation requires the user's secret key, which the caller must obtain
// from a client-side enrollment ceremony; it is consumed here and never
// retained. This mirrors the observed protocol data flow. It stands in
// tension with the goal that the server never holds a user secret, and a
// deployment that cannot accept the exposure window needs a blind key-switch
// generation ceremony, which this module deliberately does not invent.
func (c *Coordinator) Derive(userID string, userSecret he.SecretKey) error {
	const op = "Coordinator.Derive"

	serverSecret, err := c.reg.ServerSecret()
	if err != nil {
		return biomatch.E(op, biomatch.ErrMissingServerKeys)
	}
	rec, ok := c.reg.Lookup(userID)
	if !ok {
		return biomatch.E(op, biomatch.ErrUnknownUser)
	}

	swk, err := c.eng.KeySwitchGen(userSecret, serverSecret)
	if err != nil {
		return biomatch.E(op, err)
	}

	c.mu.Lock()
	c.materials[userID] = &Material{
		UserID:    userID,
		FromKey:   rec.Identity(),
		ToKey:     biomatch.KeyServer,
		CreatedAt: c.now(),
		swk:       swk,
	}
	c.mu.Unlock()

	c.log.Info(context.Background(), "derived key-switch material",
		"user_id", userID,
		"from_key_id", rec.KeyID,
		logging.Redacted("switch_key"),
	)
	return nil
}

// Convert returns a copy of ct valid under the server key, equal in plaintext
// value.
//
// A ciphertext that already carries the server identity is rejected with
// ErrKeyMismatch: conversion must be applied exactly once, and a silent no-op
// would mask a double-conversion bug upstream. Absent or expired material
// fails with ErrNoSwitchMaterial.
func (c *Coordinator) Convert(ct biomatch.Ciphertext, userID string) (biomatch.Ciphertext, error) {
	const op = "Coordinator.Convert"

	if ct.Key.IsServer() {
		return biomatch.Ciphertext{}, biomatch.Errorf(op, "%w: ciphertext already under server key", biomatch.ErrKeyMismatch)
	}

	c.mu.RLock()
	mat, ok := c.materials[userID]
	c.mu.RUnlock()
	if !ok {
		return biomatch.Ciphertext{}, biomatch.E(op, biomatch.ErrNoSwitchMaterial)
	}
	if c.now().Sub(mat.CreatedAt) > c.retention {
		return biomatch.Ciphertext{}, biomatch.Errorf(op, "%w: material expired", biomatch.ErrNoSwitchMaterial)
	}
	if ct.Key != mat.FromKey {
		return biomatch.Ciphertext{}, biomatch.Errorf(op, "%w: ciphertext under %q, material converts from %q",
			biomatch.ErrKeyMismatch, ct.Key, mat.FromKey)
	}

	out, err := c.eng.KeySwitch(ct.CT, mat.swk)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	return biomatch.Ciphertext{Key: biomatch.KeyServer, CT: out}, nil
}

// Has reports whether unexpired switch material exists for the user.
func (c *Coordinator) Has(userID string) bool {
	c.mu.RLock()
	mat, ok := c.materials[userID]
	c.mu.RUnlock()
	return ok && c.now().Sub(mat.CreatedAt) <= c.retention
}

// Expire purges material older than the retention window and returns how
// many entries were removed. Called periodically by an external scheduler;
// the coordinator owns no timer.
func (c *Coordinator) Expire(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for userID, mat := range c.materials {
		if now.Sub(mat.CreatedAt) > c.retention {
			delete(c.materials, userID)
			purged++
		}
	}
	if purged > 0 {
		c.log.Info(context.Background(), "expired key-switch material", "count", purged)
	}
	return purged
}
