// Package biomatch implements the server-side protocol for privacy-preserving
// biometric matching over homomorphically encrypted face embeddings.
//
// A client encrypts a 512-dimensional embedding under its own key; the server
// holds a gallery of templates encrypted under the server key. The protocol
// converts the query to the server key via key switching, evaluates encrypted
// squared Euclidean distances against the gallery, and applies a threshold.
// Neither side ever sees the other's plaintext embedding.
//
// The homomorphic primitives themselves live behind the he.Engine capability
// interface; this package and its subpackages only orchestrate key lifecycle,
// ciphertext identity, batching, and the authentication decision.
package biomatch
