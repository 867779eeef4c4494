package xcrypto_test

import (
	"testing"

	"github.com/appium/go-ios-remotexpc/internal/xcrypto"
	"github.com/stretchr/testify/require"
)

func TestX25519_SharedSecretSymmetric(t *testing.T) {
	a, err := xcrypto.GenerateX25519KeyPair()
	require.NoError(t, err)
	b, err := xcrypto.GenerateX25519KeyPair()
	require.NoError(t, err)

	sharedA, err := xcrypto.X25519(a.Private, b.Public)
	require.NoError(t, err)
	sharedB, err := xcrypto.X25519(b.Private, a.Public)
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
}

func TestEd25519_SignVerify(t *testing.T) {
	kp, err := xcrypto.GenerateEd25519KeyPair()
	require.NoError(t, err)

	msg := []byte("hostId||ephemeralPub||devicePub")
	sig := xcrypto.Sign(kp.Private, msg)

	require.True(t, xcrypto.Verify(kp.Public, msg, sig))
	require.False(t, xcrypto.Verify(kp.Public, []byte("tampered"), sig))
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	nonce := xcrypto.PairingNonce("PS-Msg05")
	plaintext := []byte("tlv8-encoded-inner-message")

	ct, err := xcrypto.Seal(key, nonce, plaintext, nil)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	pt, err := xcrypto.Open(key, nonce, ct, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)

	_, err = xcrypto.Open(key, nonce, append([]byte{}, ct[:len(ct)-1]...), nil)
	require.Error(t, err)
}

func TestHKDFSHA512_Deterministic(t *testing.T) {
	secret := []byte("session-key-material-session-key-material-session-key-material")
	k1, err := xcrypto.HKDFSHA512(secret, []byte("Pair-Setup-Encrypt-Salt"), []byte("Pair-Setup-Encrypt-Info"), 32)
	require.NoError(t, err)
	k2, err := xcrypto.HKDFSHA512(secret, []byte("Pair-Setup-Encrypt-Salt"), []byte("Pair-Setup-Encrypt-Info"), 32)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)

	k3, err := xcrypto.HKDFSHA512(secret, []byte("Controller-Sign-Salt"), []byte("Controller-Sign-Info"), 32)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestPairingNonce_PanicsOnBadLabel(t *testing.T) {
	require.Panics(t, func() {
		xcrypto.PairingNonce("short")
	})
}
