// Package match is the high-level authentication API. It wires the key
// registry, the key-switch coordinator, the encrypted-distance engine and
// the batch scheduler into a single decision surface: submit an encrypted
// query against an encrypted gallery, get back an accept/reject decision
// and the minimum distance, and nothing else.
package match

import (
	"context"
	"math"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/distance"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he"
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyring"
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyswitch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/logging"
	"github.com/biomatch/biomatch-go/pkg/biomatch/sched"
)

// Config carries the decision knobs. The threshold is explicit here rather
// than read from ambient state so two authenticators with different policies
// can share every other component.
type Config struct {
	// Threshold is the squared-distance acceptance bound. A query matches a
	// template when their encrypted distance decrypts strictly below it.
	Threshold float64
}

// PrivacyGuarantees documents what the protocol reveals. Every field is a
// structural property of the pipeline, not a runtime measurement: templates
// and queries only ever cross the trust boundary encrypted, and the single
// plaintext the server recovers per comparison is the scalar distance.
type PrivacyGuarantees struct {
	// QueryEncrypted: the query ciphertext is never decrypted; it is
	// key-switched and consumed homomorphically.
	QueryEncrypted bool

	// GalleryEncrypted: stored templates are ciphertexts under the server
	// evaluation key and are consumed homomorphically.
	GalleryEncrypted bool

	// DistanceOnly: decryption is applied exclusively to distance
	// ciphertexts, so the server learns one scalar per comparison.
	DistanceOnly bool
}

// guarantees holds for every Result produced by Authenticate.
var guarantees = PrivacyGuarantees{
	QueryEncrypted:   true,
	GalleryEncrypted: true,
	DistanceOnly:     true,
}

// Result is the outcome of one authentication attempt.
type Result struct {
	// Authenticated reports whether the minimum distance fell below the
	// threshold.
	Authenticated bool

	// Distance is the minimum squared distance across the gallery.
	Distance float64

	// MatchedIndex is the gallery position of the closest template. It is
	// -1 unless Authenticated is true.
	MatchedIndex int

	// Threshold echoes the bound the decision was made against.
	Threshold float64

	// Compared and Skipped count gallery templates whose distance was
	// recovered, and templates dropped after a per-template failure.
	Compared int
	Skipped  int

	// Stats describes how the distance batch ran.
	Stats sched.Stats

	// Privacy states the structural guarantees of the pipeline.
	Privacy PrivacyGuarantees
}

// Authenticator runs 1:N authentication over encrypted templates.
// Safe for concurrent use.
type Authenticator struct {
	eng  he.Engine
	reg  *keyring.Registry
	conv *keyswitch.Coordinator
	dist *distance.Engine
	sch  *sched.Scheduler
	cfg  Config
	log  logging.Logger
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(a *Authenticator) { a.log = log }
}

// New wires an Authenticator. The registry must already hold server keys
// when Authenticate is called; construction does not force it so the caller
// controls key-generation timing.
func New(eng he.Engine, reg *keyring.Registry, conv *keyswitch.Coordinator,
	dist *distance.Engine, sch *sched.Scheduler, cfg Config, opts ...Option) *Authenticator {
	a := &Authenticator{
		eng:  eng,
		reg:  reg,
		conv: conv,
		dist: dist,
		sch:  sch,
		cfg:  cfg,
		log:  logging.New(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate compares an encrypted query against an encrypted gallery and
// decides acceptance on the minimum distance.
//
// The query arrives under the user's key and is converted once; gallery
// templates must already be under the server evaluation key. Distances run
// as one batch through the scheduler; a template whose distance fails is
// skipped with a warning rather than aborting the attempt, since a partial
// gallery can still authenticate. Conditions under which no comparison could
// be attempted at all (unknown user, missing switch material, empty gallery,
// server keys not ready) are errors, never a non-match Result.
func (a *Authenticator) Authenticate(ctx context.Context, userID string, query biomatch.Ciphertext, gallery []biomatch.Ciphertext) (Result, error) {
	const op = "Authenticate"

	if _, ok := a.reg.Lookup(userID); !ok {
		return Result{}, biomatch.Errorf(op, "%w: %q", biomatch.ErrUnknownUser, userID)
	}
	if len(gallery) == 0 {
		return Result{}, biomatch.Errorf(op, "empty gallery for %q", userID)
	}

	serverSecret, err := a.reg.ServerSecret()
	if err != nil {
		return Result{}, biomatch.E(op, err)
	}

	converted, err := a.conv.Convert(query, userID)
	if err != nil {
		return Result{}, biomatch.E(op, err)
	}

	results, stats, err := sched.Run(ctx, a.sch, gallery, func(ctx context.Context, tpl biomatch.Ciphertext) (float64, error) {
		ct, err := a.dist.Distance(converted, tpl)
		if err != nil {
			return 0, err
		}
		return a.dist.DecryptDistance(serverSecret, ct)
	})
	if err != nil {
		return Result{}, biomatch.E(op, err)
	}

	res := Result{
		Distance:     math.Inf(1),
		MatchedIndex: -1,
		Threshold:    a.cfg.Threshold,
		Stats:        stats,
		Privacy:      guarantees,
	}
	minIndex := -1
	for i, r := range results {
		if r.Err != nil {
			res.Skipped++
			a.log.Warn(ctx, "distance skipped", "user_id", userID, "index", i, "err", r.Err)
			continue
		}
		res.Compared++
		if r.Value < res.Distance {
			res.Distance = r.Value
			minIndex = i
		}
	}
	if res.Compared == 0 {
		return Result{}, biomatch.Errorf(op, "%w: all %d comparisons failed", biomatch.ErrCorruptResult, len(gallery))
	}

	res.Authenticated = res.Distance < a.cfg.Threshold
	if res.Authenticated {
		res.MatchedIndex = minIndex
	}
	a.log.Info(ctx, "authentication decision",
		"user_id", userID,
		"authenticated", res.Authenticated,
		"compared", res.Compared,
		"skipped", res.Skipped,
		"backend", stats.Backend,
	)
	return res, nil
}

// EncryptTemplate encrypts one embedding under the server evaluation key for
// gallery storage. The embedding is dimension-checked and zero-padded to the
// scheme slot count by the engine.
func (a *Authenticator) EncryptTemplate(vec []float64) (biomatch.Ciphertext, error) {
	const op = "EncryptTemplate"

	if err := biomatch.CheckEmbedding(vec); err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	pk, err := a.reg.ServerPublic()
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	ct, err := a.eng.Encrypt(pk, vec)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	return biomatch.Ciphertext{Key: biomatch.KeyServer, CT: ct}, nil
}

// BatchEncryptTemplates encrypts many embeddings through the scheduler,
// returning one positional result per input. A failing embedding does not
// abort the batch.
func (a *Authenticator) BatchEncryptTemplates(ctx context.Context, vecs [][]float64) ([]sched.Result[biomatch.Ciphertext], sched.Stats, error) {
	const op = "BatchEncryptTemplates"

	pk, err := a.reg.ServerPublic()
	if err != nil {
		return nil, sched.Stats{}, biomatch.E(op, err)
	}
	return sched.Run(ctx, a.sch, vecs, func(ctx context.Context, vec []float64) (biomatch.Ciphertext, error) {
		if err := biomatch.CheckEmbedding(vec); err != nil {
			return biomatch.Ciphertext{}, err
		}
		ct, err := a.eng.Encrypt(pk, vec)
		if err != nil {
			return biomatch.Ciphertext{}, err
		}
		return biomatch.Ciphertext{Key: biomatch.KeyServer, CT: ct}, nil
	})
}

// EncryptQuery encrypts an embedding under the user's enrolled public key,
// producing the ciphertext a client device would submit. Provided for tests
// and examples; in deployment the query is encrypted on the device.
func (a *Authenticator) EncryptQuery(userID string, vec []float64) (biomatch.Ciphertext, error) {
	const op = "EncryptQuery"

	if err := biomatch.CheckEmbedding(vec); err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	rec, ok := a.reg.Lookup(userID)
	if !ok {
		return biomatch.Ciphertext{}, biomatch.Errorf(op, "%w: %q", biomatch.ErrUnknownUser, userID)
	}
	pk, err := a.eng.UnmarshalPublicKey(rec.PublicKey)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	ct, err := a.eng.Encrypt(pk, vec)
	if err != nil {
		return biomatch.Ciphertext{}, biomatch.E(op, err)
	}
	return biomatch.Ciphertext{Key: rec.Identity(), CT: ct}, nil
}
