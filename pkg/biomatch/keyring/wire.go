package keyring

import (
	"encoding/json"
	"time"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
)

// WireRecord is the text-protocol form of a UserKeyRecord: the public key
// blob travels base64-encoded so records can cross JSON transports intact.
type WireRecord struct {
	UserID     string    `json:"user_id"`
	KeyID      string    `json:"key_id"`
	PublicKey  string    `json:"public_key"`
	CreatedAt  time.Time `json:"created_at"`
	Generation int       `json:"generation"`
}

// Wire returns the transport form of the record.
func (r UserKeyRecord) Wire() WireRecord {
	return WireRecord{
		UserID:     r.UserID,
		KeyID:      r.KeyID,
		PublicKey:  biomatch.EncodeBlob(r.PublicKey),
		CreatedAt:  r.CreatedAt,
		Generation: r.Generation,
	}
}

// Record converts the transport form back into a UserKeyRecord.
func (w WireRecord) Record() (UserKeyRecord, error) {
	pk, err := biomatch.DecodeBlob(w.PublicKey)
	if err != nil {
		return UserKeyRecord{}, biomatch.E("WireRecord.Record", err)
	}
	return UserKeyRecord{
		UserID:     w.UserID,
		KeyID:      w.KeyID,
		PublicKey:  pk,
		CreatedAt:  w.CreatedAt,
		Generation: w.Generation,
	}, nil
}

// MarshalRecord renders a record as JSON for export APIs.
func MarshalRecord(r UserKeyRecord) ([]byte, error) {
	data, err := json.Marshal(r.Wire())
	if err != nil {
		return nil, biomatch.E("MarshalRecord", err)
	}
	return data, nil
}

// UnmarshalRecord parses a JSON record produced by MarshalRecord.
func UnmarshalRecord(data []byte) (UserKeyRecord, error) {
	var w WireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return UserKeyRecord{}, biomatch.Errorf("UnmarshalRecord", "invalid record payload: %v", err)
	}
	return w.Record()
}
