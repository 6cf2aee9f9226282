package giftwrap

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	payloadVersion = 2
	nonceSize      = 32
	macSize        = 32
	minPlaintext   = 1
	maxPlaintext   = 65535
)

var (
	ErrBadKey        = errors.New("giftwrap: malformed key")
	ErrBadPayload    = errors.New("giftwrap: malformed payload")
	ErrMACMismatch   = errors.New("giftwrap: payload authentication failed")
	ErrBadPlaintext  = errors.New("giftwrap: plaintext length out of range")
	conversationSalt = []byte("nip44-v2")
)

// conversationKey derives the shared symmetric key between a local secret and
// a remote x-only public key: hkdf-extract over the ECDH x coordinate.
func conversationKey(secretHex, publicHex string) ([]byte, error) {
	rawSecret, err := hex.DecodeString(secretHex)
	if err != nil || len(rawSecret) != 32 {
		return nil, ErrBadKey
	}
	rawPub, err := hex.DecodeString(publicHex)
	if err != nil || len(rawPub) != 32 {
		return nil, ErrBadKey
	}
	priv := secp256k1.PrivKeyFromBytes(rawSecret)
	defer priv.Zero()
	// An x-only key names the curve point with even y; parsing it as a
	// compressed key with the 0x02 prefix recovers that point.
	pub, err := secp256k1.ParsePubKey(append([]byte{0x02}, rawPub...))
	if err != nil {
		return nil, ErrBadKey
	}
	shared := secp256k1.GenerateSharedSecret(priv, pub)
	return hkdf.Extract(sha256.New, shared, conversationSalt), nil
}

// encryptPayload seals plaintext under the conversation key: per-message keys
// from hkdf-expand over a random nonce, ChaCha20 over padded plaintext,
// HMAC-SHA256 over nonce||ciphertext, all base64 with a leading version byte.
func encryptPayload(plaintext string, convKey []byte) (string, error) {
	if len(plaintext) < minPlaintext || len(plaintext) > maxPlaintext {
		return "", ErrBadPlaintext
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encKey, chachaNonce, macKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext))
	cipher, err := chacha20.NewUnauthenticatedCipher(encKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(nonce)
	mac.Write(ciphertext)

	out := make([]byte, 0, 1+nonceSize+len(ciphertext)+macSize)
	out = append(out, payloadVersion)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac.Sum(nil)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// decryptPayload is the inverse of encryptPayload. Any structural or
// authentication problem yields an error; callers treat all of them as
// "not addressed to this key" and drop the envelope silently.
func decryptPayload(payload string, convKey []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrBadPayload
	}
	if len(raw) < 1+nonceSize+macSize+32 || raw[0] != payloadVersion {
		return "", ErrBadPayload
	}
	nonce := raw[1 : 1+nonceSize]
	ciphertext := raw[1+nonceSize : len(raw)-macSize]
	gotMAC := raw[len(raw)-macSize:]

	encKey, chachaNonce, macKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write(nonce)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), gotMAC) {
		return "", ErrMACMismatch
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(encKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	if len(padded) < 2 {
		return "", ErrBadPayload
	}
	n := int(binary.BigEndian.Uint16(padded[:2]))
	if n < minPlaintext || n > maxPlaintext || 2+n > len(padded) || len(padded) != 2+paddedLen(n) {
		return "", ErrBadPayload
	}
	return string(padded[2 : 2+n]), nil
}

func messageKeys(convKey, nonce []byte) (encKey, chachaNonce, macKey []byte, err error) {
	if len(convKey) != 32 {
		return nil, nil, nil, ErrBadKey
	}
	reader := hkdf.Expand(sha256.New, convKey, nonce)
	buf := make([]byte, 76)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, nil, nil, err
	}
	return buf[0:32], buf[32:44], buf[44:76], nil
}

func pad(plaintext []byte) []byte {
	n := len(plaintext)
	out := make([]byte, 2+paddedLen(n))
	binary.BigEndian.PutUint16(out[:2], uint16(n))
	copy(out[2:], plaintext)
	return out
}

// paddedLen hides the exact plaintext length behind power-of-two-ish buckets.
func paddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPow := 1 << bits.Len(uint(n-1))
	chunk := nextPow / 8
	if chunk < 32 {
		chunk = 32
	}
	return chunk * ((n-1)/chunk + 1)
}
