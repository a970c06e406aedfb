package biomatch

import "encoding/base64"

// Public keys, ciphertexts, and switch keys cross the protocol boundary as
// opaque byte blobs. When carried inside text protocols they are base64
// encoded; the protocol never interprets their internal structure.

// EncodeBlob encodes an opaque wire blob as standard base64.
func EncodeBlob(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBlob decodes a base64 wire blob.
func DecodeBlob(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, Errorf("DecodeBlob", "invalid base64 payload: %v", err)
	}
	return b, nil
}
