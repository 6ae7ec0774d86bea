package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Keys holds a secp256k1 keypair. The public key is the 32-byte x-only
// form, hex encoded, as used on the wire.
type Keys struct {
	sk     *secp256k1.PrivateKey
	pubHex string
}

// GenerateKeys creates a fresh keypair.
func GenerateKeys() (*Keys, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeys(sk), nil
}

// ParseKeys parses a 32-byte hex secret key.
func ParseKeys(secretHex string) (*Keys, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("parse secret key: want 32 bytes, got %d", len(raw))
	}
	return newKeys(secp256k1.PrivKeyFromBytes(raw)), nil
}

func newKeys(sk *secp256k1.PrivateKey) *Keys {
	// x-only pubkey: drop the parity byte of the compressed form.
	compressed := sk.PubKey().SerializeCompressed()
	return &Keys{sk: sk, pubHex: hex.EncodeToString(compressed[1:33])}
}

// PublicKey returns the hex-encoded x-only public key.
func (k *Keys) PublicKey() string {
	return k.pubHex
}

// SecretKey returns the hex-encoded secret key.
func (k *Keys) SecretKey() string {
	return hex.EncodeToString(k.sk.Serialize())
}
