package pairing_test

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/appium/go-ios-remotexpc/internal/pairing"
	"github.com/appium/go-ios-remotexpc/internal/rppairing"
	"github.com/appium/go-ios-remotexpc/internal/srp"
	"github.com/appium/go-ios-remotexpc/internal/tlv8"
	"github.com/appium/go-ios-remotexpc/internal/xcrypto"
	"github.com/stretchr/testify/require"
)

// fakeSRPServer is an independent SRP-6a server used only to drive the
// device side of the in-process pairing tests; it duplicates none of the
// client package's code.
type fakeSRPServer struct {
	group srp.Group
	pin   string
	salt  []byte

	b *big.Int
	v *big.Int
	pub *big.Int

	a       *big.Int
	clientA *big.Int
	u       *big.Int
	s       *big.Int
	k       []byte
}

func newFakeSRPServer(pin string) *fakeSRPServer {
	g := srp.Group5()
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)

	x := hSrp(salt, hSrp([]byte(srp.Identity), []byte(":"), []byte(pin)))
	xInt := new(big.Int).SetBytes(x)
	v := new(big.Int).Exp(g.G, xInt, g.N)

	b := make([]byte, g.NLen)
	_, _ = rand.Read(b)
	bInt := new(big.Int).SetBytes(b)

	k := new(big.Int).SetBytes(hSrp(g.N.Bytes(), padTo(g.G, g.NLen)))
	pub := new(big.Int).Mul(k, v)
	pub.Mod(pub, g.N)
	gb := new(big.Int).Exp(g.G, bInt, g.N)
	pub.Add(pub, gb)
	pub.Mod(pub, g.N)

	return &fakeSRPServer{group: g, pin: pin, salt: salt, b: bInt, v: v, pub: pub}
}

func padTo(v *big.Int, n int) []byte {
	b := v.Bytes()
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func hSrp(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (s *fakeSRPServer) publicKeyBytes() []byte { return padTo(s.pub, s.group.NLen) }

func (s *fakeSRPServer) acceptClient(clientAPub []byte) (sessionKey []byte) {
	s.clientA = new(big.Int).SetBytes(clientAPub)
	u := new(big.Int).SetBytes(hSrp(padTo(s.clientA, s.group.NLen), padTo(s.pub, s.group.NLen)))
	s.u = u

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(s.v, u, s.group.N)
	base := new(big.Int).Mul(s.clientA, vu)
	base.Mod(base, s.group.N)
	sVal := new(big.Int).Exp(base, s.b, s.group.N)
	s.s = sVal
	s.k = hSrp(padTo(sVal, s.group.NLen))
	return s.k
}

// fakeDevice plays the device side of Pair-Setup over an in-memory pipe,
// using real SRP/TLV8/xcrypto math so the client state machine under test
// runs its real cryptographic path end to end.
type fakeDevice struct {
	t    *testing.T
	conn *rppairing.Conn
	pin  string
}

func runFakeDevice(t *testing.T, rw net.Conn, pin string) {
	t.Helper()
	d := &fakeDevice{t: t, conn: rppairing.NewConn(rw), pin: pin}
	go d.run()
}

func (d *fakeDevice) run() {
	t := d.t
	conn := d.conn

	// HANDSHAKE
	if _, err := conn.ReceiveRaw(); err != nil {
		return
	}
	if err := conn.Send(map[string]any{"ack": true}); err != nil {
		return
	}

	// VERIFY_ATTEMPT
	if _, err := conn.ReceiveRaw(); err != nil {
		return
	}
	_ = conn.Send(map[string]any{"error": "verify not attempted"})
	if _, err := conn.ReceiveRaw(); err != nil { // pairVerifyFailed, no reply
		return
	}

	// M1
	if _, err := conn.ReceiveRaw(); err != nil {
		return
	}
	srv := newFakeSRPServer(d.pin)
	m2 := tlv8.Encode([]tlv8.Item{
		{Type: tlv8.TypeSalt, Value: srv.salt},
		{Type: tlv8.TypePublicKey, Value: srv.publicKeyBytes()},
	})
	if err := sendFakeTLV(conn, m2); err != nil {
		return
	}

	// M3
	raw, err := conn.ReceiveRaw()
	if err != nil {
		return
	}
	tlv, err := findDataTLV(raw)
	if err != nil {
		return
	}
	items, err := tlv8.Decode(tlv)
	if err != nil {
		return
	}
	dict := tlv8.Dict(items)
	sessionKey := srv.acceptClient(dict[tlv8.TypePublicKey])
	require.NotEmpty(t, sessionKey)

	m4 := tlv8.Encode([]tlv8.Item{{Type: tlv8.TypeState, Value: []byte{4}}})
	if err := sendFakeTLV(conn, m4); err != nil {
		return
	}

	// M5
	raw5, err := conn.ReceiveRaw()
	if err != nil {
		return
	}
	tlv5, err := findDataTLV(raw5)
	if err != nil {
		return
	}
	items5, err := tlv8.Decode(tlv5)
	if err != nil {
		return
	}
	dict5 := tlv8.Dict(items5)

	encryptKey, err := xcrypto.HKDFSHA512(sessionKey, []byte("Pair-Setup-Encrypt-Salt"), []byte("Pair-Setup-Encrypt-Info"), 32)
	if err != nil {
		return
	}
	nonce5 := xcrypto.PairingNonce("PS-Msg05")
	_, err = xcrypto.Open(encryptKey, nonce5, dict5[tlv8.TypeEncryptedData], nil)
	require.NoError(t, err)

	inner := tlv8.Encode([]tlv8.Item{{Type: tlv8.TypeState, Value: []byte{6}}})
	nonce6 := xcrypto.PairingNonce("PS-Msg06")
	enc6, err := xcrypto.Seal(encryptKey, nonce6, inner, nil)
	if err != nil {
		return
	}
	m6 := tlv8.Encode([]tlv8.Item{{Type: tlv8.TypeEncryptedData, Value: enc6}})
	_ = sendFakeTLV(conn, m6)
}

func sendFakeTLV(conn *rppairing.Conn, tlv []byte) error {
	return conn.Send(map[string]any{"data": base64.StdEncoding.EncodeToString(tlv)})
}

func findDataTLV(raw []byte) ([]byte, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	s, _ := findFieldString(generic, "data")
	return base64.StdEncoding.DecodeString(s)
}

// findFieldString depth-first searches a generically-decoded JSON tree for
// the first string value stored under key, mirroring how a real device
// would locate the "data" field regardless of envelope nesting.
func findFieldString(v any, key string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[key].(string); ok {
			return s, true
		}
		for _, child := range t {
			if s, ok := findFieldString(child, key); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range t {
			if s, ok := findFieldString(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}

func TestPairSetup_HappyPath(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer clientSide.Close()
	defer deviceSide.Close()

	runFakeDevice(t, deviceSide, "1234")

	dir := t.TempDir()
	store, err := pairing.NewFileStore(dir)
	require.NoError(t, err)

	conn := rppairing.NewConn(clientSide)
	path, err := pairing.PairSetup(context.Background(), conn, pairing.SetupOptions{
		Identifier: "00008030-TESTUDID",
		PIN:        pairing.FixedPIN("1234"),
		Store:      store,
		Hostname:   "test-host",
	})
	require.NoError(t, err)
	require.FileExists(t, path)

	rec, err := store.Load("00008030-TESTUDID")
	require.NoError(t, err)
	require.Len(t, rec.HostPublicKey, 32)
	require.Len(t, rec.HostPrivateKey, 64)
}

func TestPairSetup_PINPromptTimesOutOnFakeClock(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer clientSide.Close()
	defer deviceSide.Close()

	runFakeDevice(t, deviceSide, "1234")

	dir := t.TempDir()
	store, err := pairing.NewFileStore(dir)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	blocked := make(chan struct{})
	neverAnswers := pairing.PINPrompterFunc(func(ctx context.Context) (string, error) {
		close(blocked)
		<-ctx.Done()
		return "", ctx.Err()
	})

	conn := rppairing.NewConn(clientSide)
	done := make(chan error, 1)
	go func() {
		_, err := pairing.PairSetup(context.Background(), conn, pairing.SetupOptions{
			Identifier: "00008030-TESTUDID",
			PIN:        neverAnswers,
			Store:      store,
			Hostname:   "test-host",
			Clock:      clock,
		})
		done <- err
	}()

	<-blocked
	clock.BlockUntil(1)
	clock.Advance(pairing.PINTimeout)

	err = <-done
	require.Error(t, err)
}

func TestPairSetup_RejectsSignedPIN(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer clientSide.Close()
	defer deviceSide.Close()

	runFakeDevice(t, deviceSide, "1234")

	dir := t.TempDir()
	store, err := pairing.NewFileStore(dir)
	require.NoError(t, err)

	conn := rppairing.NewConn(clientSide)
	_, err = pairing.PairSetup(context.Background(), conn, pairing.SetupOptions{
		Identifier: "00008030-TESTUDID",
		PIN:        pairing.FixedPIN("+1234"),
		Store:      store,
		Hostname:   "test-host",
	})
	require.Error(t, err)
}
