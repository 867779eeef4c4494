package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/appium/go-ios-remotexpc/internal/rppairing"
	"github.com/appium/go-ios-remotexpc/internal/srp"
	"github.com/appium/go-ios-remotexpc/internal/tlv8"
	"github.com/appium/go-ios-remotexpc/internal/xcrypto"
)

// SetupOptions configures a PairSetup run.
type SetupOptions struct {
	// Identifier is the device's UDID, used as the pair record's storage key.
	Identifier string
	// PIN obtains the on-screen PIN; defaults to failing immediately if nil.
	PIN PINPrompter
	// Store persists the resulting long-term identity.
	Store Store
	// DeviceInfoEncoder renders the DEVICE_INFO TLV item; defaults to
	// DefaultDeviceInfoEncoder.
	DeviceInfoEncoder DeviceInfoEncoder
	// Hostname seeds the uuidv5 host identifier; defaults to os.Hostname().
	Hostname string
	// StrictM6, when true, treats an M6 decrypt failure as fatal instead of
	// logging it and persisting the pair record anyway.
	StrictM6 bool
	// Clock drives the PIN-prompt deadline; defaults to clockwork.NewRealClock(),
	// letting tests substitute a clockwork.NewFakeClock() instead of sleeping
	// out the real 120s ceiling.
	Clock clockwork.Clock
}

// PairSetup runs the HANDSHAKE through M6 Pair-Setup sequence over conn and
// returns the path of the persisted pair record.
func PairSetup(ctx context.Context, conn *rppairing.Conn, opts SetupOptions) (string, error) {
	if opts.PIN == nil {
		return "", newError(CodeInputTimeout, "no PIN prompter configured")
	}
	if opts.DeviceInfoEncoder == nil {
		opts.DeviceInfoEncoder = DefaultDeviceInfoEncoder
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	hostId, err := resolveHostId(opts.Hostname)
	if err != nil {
		return "", fmt.Errorf("pairing: resolve host id: %w", err)
	}

	if err := handshake(conn); err != nil {
		return "", err
	}
	if err := verifyAttempt(conn); err != nil {
		return "", err
	}

	salt, serverPub, err := setupM1M2(conn)
	if err != nil {
		return "", err
	}

	pin, err := promptAndValidatePIN(ctx, opts.PIN, opts.Clock)
	if err != nil {
		return "", err
	}

	client := srp.NewClient()
	defer client.Dispose()
	if err := client.SetIdentity(srp.Identity, pin); err != nil {
		return "", fmt.Errorf("pairing: srp set identity: %w", err)
	}
	if err := client.SetSalt(salt); err != nil {
		return "", fmt.Errorf("pairing: srp set salt: %w", err)
	}
	if err := client.SetServerPublicKey(serverPub); err != nil {
		return "", fmt.Errorf("pairing: srp set server public key: %w", err)
	}

	if err := setupM3M4(conn, client); err != nil {
		return "", err
	}

	sessionKey, err := client.SessionKey()
	if err != nil {
		return "", fmt.Errorf("pairing: srp session key: %w", err)
	}

	ltkeys, encryptKey, err := setupM5(conn, hostId, sessionKey, opts.DeviceInfoEncoder)
	if err != nil {
		return "", err
	}

	if err := setupM6(conn, encryptKey, opts.StrictM6); err != nil {
		return "", err
	}

	rec := Record{
		HostPublicKey:       ltkeys.Public,
		HostPrivateKey:      ltkeys.Private,
		RemoteUnlockHostKey: "",
	}
	path, err := opts.Store.Save(opts.Identifier, rec)
	if err != nil {
		return "", err
	}
	return path, nil
}

func resolveHostId(hostname string) (string, error) {
	if hostname != "" {
		return HostIDFor(hostname), nil
	}
	return HostID()
}

// handshake sends the initial request packet; any reply is accepted.
func handshake(conn *rppairing.Conn) error {
	body := map[string]any{
		"handshake": map[string]any{
			"hostOptions":         map[string]any{"attemptPairVerify": true},
			"wireProtocolVersion": 19,
		},
	}
	if err := conn.Send(rppairing.NewRequestEnvelope(body)); err != nil {
		return fmt.Errorf("pairing: send handshake: %w", err)
	}
	if _, err := conn.ReceiveRaw(); err != nil {
		return fmt.Errorf("pairing: receive handshake reply: %w", err)
	}
	return nil
}

// verifyAttempt probes Pair-Verify with a throwaway key, expecting it to
// fail, and tells the device the attempt was abandoned so it falls through
// to Pair-Setup.
func verifyAttempt(conn *rppairing.Conn) error {
	var randomPub [32]byte
	if _, err := rand.Read(randomPub[:]); err != nil {
		return fmt.Errorf("pairing: generate verify-attempt key: %w", err)
	}
	tlvBytes := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeState, Value: []byte{1}},
		{Type: tlv8.TypePublicKey, Value: randomPub[:]},
	})
	if err := sendTLVEvent(conn, "verifyManualPairing", tlvBytes, map[string]any{"startNewSession": true}); err != nil {
		return fmt.Errorf("pairing: send verify attempt: %w", err)
	}
	if _, err := conn.ReceiveRaw(); err != nil {
		return fmt.Errorf("pairing: receive verify attempt reply: %w", err)
	}
	if err := conn.Send(conn.NewEventEnvelope(eventBody("pairVerifyFailed", map[string]any{}))); err != nil {
		return fmt.Errorf("pairing: send pairVerifyFailed: %w", err)
	}
	return nil
}

// setupM1M2 sends M1 and parses the device's SALT/PUBLIC_KEY reply.
func setupM1M2(conn *rppairing.Conn) (salt, serverPub []byte, err error) {
	m1 := tlv8.Encode([]tlv8.Item{{Type: tlv8.TypeState, Value: []byte{1}}})
	if err := sendTLVEvent(conn, "setupManualPairing", m1, map[string]any{"startNewSession": true}); err != nil {
		return nil, nil, fmt.Errorf("pairing: send M1: %w", err)
	}

	raw, err := receiveTLV(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: receive M2: %w", err)
	}
	items, err := tlv8.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: decode M2: %w", err)
	}
	dict := tlv8.Dict(items)
	if code, ok := tlv8.ErrorCode(dict); ok {
		return nil, nil, newAppleError(code, "Pair-Setup M2 failed")
	}
	salt, ok := dict[tlv8.TypeSalt]
	if !ok {
		return nil, nil, newError(CodeMissingSRPData, "M2 reply missing SALT")
	}
	serverPub, ok = dict[tlv8.TypePublicKey]
	if !ok {
		return nil, nil, newError(CodeMissingSRPData, "M2 reply missing PUBLIC_KEY")
	}
	return salt, serverPub, nil
}

func promptAndValidatePIN(ctx context.Context, prompter PINPrompter, clock clockwork.Clock) (string, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		pin string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pin, err := prompter.PromptPIN(ctx)
		ch <- result{pin, err}
	}()

	select {
	case <-ctx.Done():
		return "", newError(CodeInputTimeout, "PIN prompt timed out")
	case <-clock.After(PINTimeout):
		return "", newError(CodeInputTimeout, "PIN prompt timed out")
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("pairing: prompt pin: %w", r.err)
		}
		if err := validatePIN(r.pin); err != nil {
			return "", err
		}
		return r.pin, nil
	}
}

// setupM3M4 sends the SRP proof and checks the device's M4 acknowledgement.
func setupM3M4(conn *rppairing.Conn, client *srp.Client) error {
	pub, err := client.PublicKey()
	if err != nil {
		return fmt.Errorf("pairing: srp public key: %w", err)
	}
	proof, err := client.ComputeProof()
	if err != nil {
		return fmt.Errorf("pairing: srp compute proof: %w", err)
	}

	m3 := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeState, Value: []byte{3}},
		{Type: tlv8.TypePublicKey, Value: pub},
		{Type: tlv8.TypeProof, Value: proof},
	})
	if err := sendTLVEvent(conn, "setupManualPairing", m3, nil); err != nil {
		return fmt.Errorf("pairing: send M3: %w", err)
	}

	raw, err := receiveTLV(conn)
	if err != nil {
		return fmt.Errorf("pairing: receive M4: %w", err)
	}
	items, err := tlv8.Decode(raw)
	if err != nil {
		return fmt.Errorf("pairing: decode M4: %w", err)
	}
	dict := tlv8.Dict(items)
	if _, ok := tlv8.ErrorCode(dict); ok {
		return newError(CodeWrongPIN, "Pair-Setup M4: device rejected PIN")
	}
	if serverProof, ok := dict[tlv8.TypeProof]; ok {
		if !client.VerifyServerProof(serverProof) {
			return newError(CodeWrongPIN, "Pair-Setup M4: server proof mismatch")
		}
	}
	return nil
}

// setupM5 derives the pairing keys, builds a fresh long-term identity, and
// sends the encrypted M5 payload.
func setupM5(conn *rppairing.Conn, hostId string, sessionKey []byte, encodeDeviceInfo DeviceInfoEncoder) (xcrypto.Ed25519KeyPair, []byte, error) {
	encryptKey, err := xcrypto.HKDFSHA512(sessionKey, []byte("Pair-Setup-Encrypt-Salt"), []byte("Pair-Setup-Encrypt-Info"), 32)
	if err != nil {
		return xcrypto.Ed25519KeyPair{}, nil, fmt.Errorf("pairing: derive encrypt key: %w", err)
	}
	signingKey, err := xcrypto.HKDFSHA512(sessionKey, []byte("Pair-Setup-Controller-Sign-Salt"), []byte("Pair-Setup-Controller-Sign-Info"), 32)
	if err != nil {
		return xcrypto.Ed25519KeyPair{}, nil, fmt.Errorf("pairing: derive signing key: %w", err)
	}

	ltkeys, err := xcrypto.GenerateEd25519KeyPair()
	if err != nil {
		return xcrypto.Ed25519KeyPair{}, nil, fmt.Errorf("pairing: generate long-term identity: %w", err)
	}

	toSign := append(append(append([]byte{}, signingKey...), []byte(hostId)...), ltkeys.Public...)
	sig := xcrypto.Sign(ltkeys.Private, toSign)

	inner := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeIdentifier, Value: []byte(hostId)},
		{Type: tlv8.TypePublicKey, Value: ltkeys.Public},
		{Type: tlv8.TypeSignature, Value: sig},
		{Type: tlv8.TypeDeviceInfo, Value: encodeDeviceInfo(hostId)},
	})

	nonce := xcrypto.PairingNonce("PS-Msg05")
	encrypted, err := xcrypto.Seal(encryptKey, nonce, inner, nil)
	if err != nil {
		return xcrypto.Ed25519KeyPair{}, nil, fmt.Errorf("pairing: seal M5: %w", err)
	}

	m5 := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeEncryptedData, Value: encrypted},
		{Type: tlv8.TypeState, Value: []byte{5}},
	})
	if err := sendTLVEvent(conn, "setupManualPairing", m5, nil); err != nil {
		return xcrypto.Ed25519KeyPair{}, nil, fmt.Errorf("pairing: send M5: %w", err)
	}
	return ltkeys, encryptKey, nil
}

// setupM6 decrypts the device's final acknowledgement. A decrypt failure is
// non-fatal unless strict is set, since the device is assumed to have
// already accepted M5 (spec.md §9 open question 1).
func setupM6(conn *rppairing.Conn, encryptKey []byte, strict bool) error {
	raw, err := receiveTLV(conn)
	if err != nil {
		return fmt.Errorf("pairing: receive M6: %w", err)
	}
	items, err := tlv8.Decode(raw)
	if err != nil {
		return fmt.Errorf("pairing: decode M6: %w", err)
	}
	dict := tlv8.Dict(items)
	encData, ok := dict[tlv8.TypeEncryptedData]
	if !ok {
		return newError(CodeM5Error, "M6 reply missing ENCRYPTED_DATA")
	}

	nonce := xcrypto.PairingNonce("PS-Msg06")
	pt, err := xcrypto.Open(encryptKey, nonce, encData, nil)
	if err != nil {
		if strict {
			return fmt.Errorf("pairing: decrypt M6: %w", err)
		}
		slog.Warn("pairing: M6 decrypt failed, persisting pair record anyway", "error", err)
		return nil
	}

	innerItems, err := tlv8.Decode(pt)
	if err != nil {
		slog.Warn("pairing: M6 plaintext malformed, persisting pair record anyway", "error", err)
		return nil
	}
	innerDict := tlv8.Dict(innerItems)
	if state, ok := innerDict[tlv8.TypeState]; !ok || len(state) == 0 || state[0] != 6 {
		slog.Warn("pairing: M6 did not report STATE=6, persisting pair record anyway")
	}
	return nil
}
