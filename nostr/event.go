package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Event is a NIP-01 event. CreatedAt is unix seconds.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize produces the canonical [0,pubkey,created_at,kind,tags,content]
// array whose SHA-256 is the event id. HTML escaping must be off or ids
// diverge from other implementations.
func (e *Event) Serialize() ([]byte, error) {
	arr := []any{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID fills in the event id from the current fields.
func (e *Event) ComputeID() error {
	raw, err := e.Serialize()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	e.ID = hex.EncodeToString(sum[:])
	return nil
}

// Sign sets Pubkey, ID and Sig using the given keys.
func (e *Event) Sign(keys *Keys) error {
	e.Pubkey = keys.PublicKey()
	if e.Tags == nil {
		e.Tags = [][]string{}
	}
	if err := e.ComputeID(); err != nil {
		return err
	}
	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(keys.sk, digest)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the id and the Schnorr signature.
func (e *Event) Verify() bool {
	raw, err := e.Serialize()
	if err != nil {
		return false
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != e.ID {
		return false
	}
	pkRaw, err := hex.DecodeString(e.Pubkey)
	if err != nil {
		return false
	}
	sigRaw, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return false
	}
	// The wire pubkey is x-only; ParsePubKey takes the 33-byte compressed
	// form, so try both parities of the y coordinate.
	for _, prefix := range []byte{0x02, 0x03} {
		pk, err := schnorr.ParsePubKey(append([]byte{prefix}, pkRaw...))
		if err == nil && sig.Verify(sum[:], pk) {
			return true
		}
	}
	return false
}

// TagValue returns the first value of the first tag with the given name,
// or "" when absent.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
