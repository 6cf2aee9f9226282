package identity

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	ErrInvalidSecret = errors.New("invalid master secret encoding")
	ErrInvalidPubkey = errors.New("invalid public key encoding")
)

// Keypair is a BIP-340 keypair in the hex forms the wire protocol uses.
type Keypair struct {
	SecretHex string
	PublicHex string
}

// GenerateKeypair draws a fresh cryptographically random keypair.
func GenerateKeypair() (Keypair, error) {
	sk := nostr.GeneratePrivateKey()
	return KeypairFromSecretHex(sk)
}

// KeypairFromSecretHex derives the public half from a 64-hex secret.
func KeypairFromSecretHex(secretHex string) (Keypair, error) {
	secretHex = strings.ToLower(strings.TrimSpace(secretHex))
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != 32 {
		return Keypair{}, ErrInvalidSecret
	}
	pub, err := nostr.GetPublicKey(secretHex)
	if err != nil {
		return Keypair{}, ErrInvalidSecret
	}
	return Keypair{SecretHex: secretHex, PublicHex: pub}, nil
}

// DecodeSecret accepts either a bech32 nsec or a raw 64-hex secret and
// returns the canonical hex form. It never mutates any stored state.
func DecodeSecret(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", ErrInvalidSecret
	}
	if strings.HasPrefix(strings.ToLower(encoded), "nsec1") {
		prefix, value, err := nip19.Decode(encoded)
		if err != nil || prefix != "nsec" {
			return "", ErrInvalidSecret
		}
		sk, ok := value.(string)
		if !ok {
			return "", ErrInvalidSecret
		}
		encoded = sk
	}
	kp, err := KeypairFromSecretHex(encoded)
	if err != nil {
		return "", err
	}
	return kp.SecretHex, nil
}

// EncodeNsec renders the canonical persisted form of a secret.
func EncodeNsec(secretHex string) (string, error) {
	nsec, err := nip19.EncodePrivateKey(secretHex)
	if err != nil {
		return "", ErrInvalidSecret
	}
	return nsec, nil
}

// EncodeNpub renders the shareable form of a public key.
func EncodeNpub(publicHex string) (string, error) {
	npub, err := nip19.EncodePublicKey(publicHex)
	if err != nil {
		return "", ErrInvalidPubkey
	}
	return npub, nil
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
