package pairing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/appium/go-ios-remotexpc/internal/rppairing"
	"github.com/appium/go-ios-remotexpc/internal/tlv8"
	"github.com/appium/go-ios-remotexpc/internal/xcrypto"
)

// SessionKeys holds the derived Pair-Verify transport keys (spec.md §4.4
// step 6).
type SessionKeys struct {
	ClientEncryptKey []byte
	ServerEncryptKey []byte
}

// PairVerify runs the four-state Pair-Verify handshake over conn using a
// previously persisted long-term identity and returns the derived session
// keys.
func PairVerify(conn *rppairing.Conn, hostId string, rec Record) (SessionKeys, error) {
	ephemeral, err := xcrypto.GenerateX25519KeyPair()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: generate ephemeral key: %w", err)
	}

	state1 := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeState, Value: []byte{1}},
		{Type: tlv8.TypePublicKey, Value: ephemeral.Public[:]},
	})
	if err := sendTLVEvent(conn, "verifyManualPairing", state1, map[string]any{"startNewSession": true}); err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: send STATE=1: %w", err)
	}

	raw, err := receiveTLV(conn)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: receive STATE=2: %w", err)
	}
	items, err := tlv8.Decode(raw)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: decode STATE=2: %w", err)
	}
	dict := tlv8.Dict(items)
	if code, ok := tlv8.ErrorCode(dict); ok {
		return SessionKeys{}, VerifyError(code)
	}
	devicePubBytes, ok := dict[tlv8.TypePublicKey]
	if !ok || len(devicePubBytes) != 32 {
		return SessionKeys{}, newError(CodeMissingSRPData, "STATE=2 reply missing PUBLIC_KEY")
	}
	var devicePub [32]byte
	copy(devicePub[:], devicePubBytes)

	sharedSecret, err := xcrypto.X25519(ephemeral.Private, devicePub)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: x25519 agreement: %w", err)
	}

	pairVerifyKey, err := xcrypto.HKDFSHA512(sharedSecret[:], []byte("Pair-Verify-Encrypt-Salt"), []byte("Pair-Verify-Encrypt-Info"), 32)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: derive pair-verify key: %w", err)
	}

	toSign := append(append(append([]byte{}, ephemeral.Public[:]...), []byte(hostId)...), devicePub[:]...)
	sig := xcrypto.Sign(ed25519.PrivateKey(rec.HostPrivateKey), toSign)

	inner := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeIdentifier, Value: []byte(hostId)},
		{Type: tlv8.TypeSignature, Value: sig},
	})
	nonce := xcrypto.PairingNonce("PV-Msg03")
	encrypted, err := xcrypto.Seal(pairVerifyKey, nonce, inner, nil)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: seal STATE=3: %w", err)
	}

	state3 := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeState, Value: []byte{3}},
		{Type: tlv8.TypeEncryptedData, Value: encrypted},
	})
	if err := sendTLVEvent(conn, "verifyManualPairing", state3, nil); err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: send STATE=3: %w", err)
	}

	raw4, err := receiveTLV(conn)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: receive STATE=4: %w", err)
	}
	items4, err := tlv8.Decode(raw4)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: decode STATE=4: %w", err)
	}
	dict4 := tlv8.Dict(items4)
	if code, ok := tlv8.ErrorCode(dict4); ok {
		return SessionKeys{}, VerifyError(code)
	}

	clientEncryptKey, err := xcrypto.HKDFSHA512(sharedSecret[:], nil, []byte("ClientEncrypt-main"), 32)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: derive client encrypt key: %w", err)
	}
	serverEncryptKey, err := xcrypto.HKDFSHA512(sharedSecret[:], nil, []byte("ServerEncrypt-main"), 32)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("pairing: derive server encrypt key: %w", err)
	}

	return SessionKeys{ClientEncryptKey: clientEncryptKey, ServerEncryptKey: serverEncryptKey}, nil
}
