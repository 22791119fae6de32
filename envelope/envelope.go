// Package envelope implements the hybrid encryption that protects
// session descriptions end to end: payloads are sealed with a fresh
// AES-256-GCM key, and the key itself is wrapped with RSA-OAEP under
// the receiver's public key. The signalling server only ever sees the
// sealed triple.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"io"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
)

const (
	// rsaBits is the modulus size for generated RSA keys.
	rsaBits = 4096
	// KeySize is the AES key size in bytes.
	KeySize = 32
	// IVSize is the AES-GCM nonce size in bytes.
	IVSize = 12
)

// ErrCrypto is the only error surfaced from Unwrap. Which step of the
// chain failed is deliberately not identified.
var ErrCrypto = errors.New("crypto envelope failure")

// Sealed is an encrypted payload: the RSA-wrapped AES key, the GCM
// nonce, and the ciphertext.
type Sealed struct {
	Key     []byte
	IV      []byte
	Payload []byte
}

// Wrap seals plaintext under a fresh AES-256-GCM key and nonce and
// wraps the key for pub.
func Wrap(plaintext []byte, pub *rsa.PublicKey) (Sealed, error) {
	rng, err := NewRand()
	if err != nil {
		return Sealed{}, pkgerrors.Wrap(err, "couldn't seed csprng")
	}

	key := make([]byte, KeySize)
	defer zero(key)
	if _, err := io.ReadFull(rng, key); err != nil {
		return Sealed{}, pkgerrors.Wrap(err, "couldn't generate AES key")
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rng, iv); err != nil {
		return Sealed{}, pkgerrors.Wrap(err, "couldn't generate AES init vector")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	payload := gcm.Seal(nil, iv, plaintext, nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rng, pub, key, nil)
	if err != nil {
		return Sealed{}, pkgerrors.Wrap(err, "key couldn't be encrypted")
	}
	return Sealed{Key: wrappedKey, IV: iv, Payload: payload}, nil
}

// Unwrap opens a sealed payload with priv. Every failure mode returns
// the same ErrCrypto.
func Unwrap(s Sealed, priv *rsa.PrivateKey) ([]byte, error) {
	if len(s.IV) != IVSize {
		return nil, ErrCrypto
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, s.Key, nil)
	if err != nil {
		return nil, ErrCrypto
	}
	defer zero(key)
	if len(key) != KeySize {
		return nil, ErrCrypto
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrCrypto
	}
	plaintext, err := gcm.Open(nil, s.IV, s.Payload, nil)
	if err != nil {
		return nil, ErrCrypto
	}
	return plaintext, nil
}

// GenerateKeys produces the two unrelated 4096-bit RSA keys that make
// up a Hammeregg identity: the home key, whose public half encrypts
// offers to the home, and the remote key, which the remote keeps
// private. Both are drawn from one freshly seeded CSPRNG.
func GenerateKeys() (home, remote *rsa.PrivateKey, err error) {
	rng, err := NewRand()
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "couldn't seed csprng")
	}
	home, err = rsa.GenerateKey(rng, rsaBits)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "couldn't generate home key")
	}
	remote, err = rsa.GenerateKey(rng, rsaBits)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "couldn't generate remote key")
	}
	return home, remote, nil
}

// NewRand returns a ChaCha20-keystream CSPRNG seeded from the
// operating system's entropy source.
func NewRand() (io.Reader, error) {
	seed := make([]byte, chacha20.KeySize)
	if _, err := crand.Read(seed); err != nil {
		return nil, err
	}
	defer zero(seed)
	c, err := chacha20.NewUnauthenticatedCipher(seed, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	return &chachaReader{c: c}, nil
}

type chachaReader struct {
	c *chacha20.Cipher
}

func (r *chachaReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	r.c.XORKeyStream(p, p)
	return len(p), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "couldn't init AES")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "couldn't init GCM")
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
