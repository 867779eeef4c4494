// Package xcrypto wraps the primitive operations the pairing and transport
// state machines need: Ed25519 signing, X25519 key agreement, HKDF-SHA512
// key derivation, and ChaCha20-Poly1305 AEAD sealing.
package xcrypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Ed25519KeyPair is a long-term controller identity (C5 §4.3 M5).
type Ed25519KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateEd25519KeyPair creates a fresh long-term Ed25519 identity.
func GenerateEd25519KeyPair() (Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Ed25519KeyPair{}, fmt.Errorf("xcrypto: generate ed25519 key: %w", err)
	}
	return Ed25519KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs msg with the controller's long-term private key.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify verifies an Ed25519 signature produced by Sign.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// X25519KeyPair is an ephemeral Pair-Verify keypair (C6 §4.4).
type X25519KeyPair struct {
	Private *ecdh.PrivateKey
	Public  [32]byte
}

// GenerateX25519KeyPair creates a fresh ephemeral X25519 keypair.
func GenerateX25519KeyPair() (X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return X25519KeyPair{}, fmt.Errorf("xcrypto: generate x25519 key: %w", err)
	}
	var pub [32]byte
	copy(pub[:], priv.PublicKey().Bytes())
	return X25519KeyPair{Private: priv, Public: pub}, nil
}

// X25519 computes the shared secret for (priv, peerPublic).
func X25519(priv *ecdh.PrivateKey, peerPublic [32]byte) ([32]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("xcrypto: invalid peer public key: %w", err)
	}
	shared, err := priv.ECDH(peerKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("xcrypto: x25519 agreement: %w", err)
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// HKDFSHA512 derives L bytes of key material from secret using HKDF-SHA512
// with the given salt and info strings, as used throughout Pair-Setup and
// Pair-Verify (spec.md §4.3, §4.4).
func HKDFSHA512(secret, salt, info []byte, l int) ([]byte, error) {
	r := hkdf.New(sha512.New, secret, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("xcrypto: hkdf expand: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under key and the given
// 12-byte nonce, appending the auth tag.
func Seal(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: new aead: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open decrypts and authenticates ciphertext produced by Seal.
func Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: new aead: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: aead open: %w", err)
	}
	return pt, nil
}

// PairingNonce builds the 12-byte nonce Apple's pairing protocols use:
// four zero bytes followed by an 8-byte ASCII label (e.g. "PS-Msg05").
func PairingNonce(label string) []byte {
	if len(label) != 8 {
		panic(fmt.Sprintf("xcrypto: pairing nonce label must be 8 bytes, got %q", label))
	}
	nonce := make([]byte, 12)
	copy(nonce[4:], label)
	return nonce
}

// SHA512Sum returns the SHA-512 digest of data.
func SHA512Sum(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}
