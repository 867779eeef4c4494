// Package srp implements the SRP-6a client half of Pair-Setup M1-M6
// (spec.md §4.2): RFC 5054's 3072-bit group, SHA-512 hashing, and the
// identity literal "Pair-Setup".
package srp

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"
)

// Identity is the fixed SRP username HomeKit pairing uses for every device.
const Identity = "Pair-Setup"

var (
	// ErrInvalidArgument is returned for empty credentials.
	ErrInvalidArgument = errors.New("srp: invalid argument")
	// ErrInvalidServerKey is returned when B is a degenerate value.
	ErrInvalidServerKey = errors.New("srp: invalid server public key")
	// ErrSessionNotReady is returned when a method is called out of order.
	ErrSessionNotReady = errors.New("srp: session not ready")
)

// Client is a single Pair-Setup SRP-6a session. It is not safe for
// concurrent use; the controller owns exactly one Client per Pair-Setup
// attempt (spec.md §3 "Exactly one in-flight Pair-Setup per device").
type Client struct {
	group Group

	identity string
	pin      []byte

	salt     []byte
	serverPB *big.Int // B

	clientPriv *big.Int // a
	clientPub  *big.Int // A

	x *big.Int
	u *big.Int
	s *big.Int // premaster secret S
	k []byte   // session key K = H(S)

	proof []byte
}

// NewClient creates an SRP-6a client bound to Group5.
func NewClient() *Client {
	return &Client{group: Group5()}
}

// SetIdentity records the identity/pin pair. Pair-Setup always uses the
// literal identity "Pair-Setup"; pin must be non-empty.
func (c *Client) SetIdentity(identity, pin string) error {
	if pin == "" {
		return fmt.Errorf("%w: empty pin", ErrInvalidArgument)
	}
	c.identity = identity
	c.pin = []byte(pin)
	return nil
}

// SetSalt records the device-supplied salt. Ephemeral keys are derived once
// both SetSalt and SetServerPublicKey have been called.
func (c *Client) SetSalt(salt []byte) error {
	c.salt = append([]byte{}, salt...)
	return c.maybeDeriveEphemeral()
}

// SetServerPublicKey records the device's SRP public key B.
func (c *Client) SetServerPublicKey(b []byte) error {
	if len(b) != c.group.NLen {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidServerKey, c.group.NLen, len(b))
	}
	bInt := new(big.Int).SetBytes(b)
	if new(big.Int).Mod(bInt, c.group.N).Sign() == 0 {
		return fmt.Errorf("%w: B mod N == 0", ErrInvalidServerKey)
	}
	if bInt.Cmp(c.group.N) == 0 {
		return fmt.Errorf("%w: B == N", ErrInvalidServerKey)
	}
	c.serverPB = bInt
	return c.maybeDeriveEphemeral()
}

// PublicKey returns the client's ephemeral public key A, once derived.
func (c *Client) PublicKey() ([]byte, error) {
	if c.clientPub == nil {
		return nil, ErrSessionNotReady
	}
	return c.group.pad(c.clientPub), nil
}

func (c *Client) maybeDeriveEphemeral() error {
	if c.salt == nil || c.serverPB == nil || c.identity == "" {
		return nil
	}
	a := make([]byte, c.group.NLen)
	if _, err := rand.Read(a); err != nil {
		return fmt.Errorf("srp: generate ephemeral private key: %w", err)
	}
	c.clientPriv = new(big.Int).SetBytes(a)
	c.clientPub = new(big.Int).Exp(c.group.G, c.clientPriv, c.group.N)
	return nil
}

func h(parts ...[]byte) []byte {
	hsh := sha512.New()
	for _, p := range parts {
		hsh.Write(p)
	}
	return hsh.Sum(nil)
}

// ComputeProof derives the premaster secret S, session key K, and the
// client proof M1 = H(H(N) XOR H(g) | H(I) | s | A | B | K) (spec.md §4.2).
func (c *Client) ComputeProof() ([]byte, error) {
	if c.salt == nil || c.serverPB == nil || c.clientPriv == nil || c.clientPub == nil {
		return nil, ErrSessionNotReady
	}

	u := new(big.Int).SetBytes(h(c.group.pad(c.clientPub), c.group.pad(c.serverPB)))
	if u.Sign() == 0 {
		return nil, fmt.Errorf("%w: u == 0", ErrInvalidServerKey)
	}
	c.u = u

	k := new(big.Int).SetBytes(h(c.group.N.Bytes(), c.group.pad(c.group.G)))

	x := new(big.Int).SetBytes(h(c.salt, h([]byte(c.identity), []byte(":"), c.pin)))
	c.x = x

	// S = (B - k*g^x) ^ (a + u*x) mod N
	kgx := new(big.Int).Exp(c.group.G, x, c.group.N)
	kgx.Mul(kgx, k)
	kgx.Mod(kgx, c.group.N)

	base := new(big.Int).Sub(c.serverPB, kgx)
	base.Mod(base, c.group.N)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.clientPriv)

	s := new(big.Int).Exp(base, exp, c.group.N)
	c.s = s

	sessionKey := h(c.group.pad(s))
	c.k = sessionKey

	hn := h(c.group.N.Bytes())
	hg := h(c.group.pad(c.group.G))
	hnXorHg := make([]byte, len(hn))
	for i := range hn {
		hnXorHg[i] = hn[i] ^ hg[i]
	}
	hi := h([]byte(c.identity))

	m1 := h(hnXorHg, hi, c.salt, c.group.pad(c.clientPub), c.group.pad(c.serverPB), sessionKey)
	c.proof = m1
	return m1, nil
}

// SessionKey returns K; valid only after ComputeProof succeeds.
func (c *Client) SessionKey() ([]byte, error) {
	if c.k == nil {
		return nil, ErrSessionNotReady
	}
	return c.k, nil
}

// VerifyServerProof checks the device's M2 = H(A | M1 | K) response.
func (c *Client) VerifyServerProof(m2 []byte) bool {
	if c.proof == nil || c.k == nil {
		return false
	}
	expected := h(c.group.pad(c.clientPub), c.proof, c.k)
	if len(expected) != len(m2) {
		return false
	}
	var diff byte
	for i := range expected {
		diff |= expected[i] ^ m2[i]
	}
	return diff == 0
}

// Dispose zeroes sensitive session material (spec.md §3 invariant: "SRP
// session keys are zeroed on any exit from Pair-Setup").
func (c *Client) Dispose() {
	zero := func(b *big.Int) {
		if b == nil {
			return
		}
		words := b.Bits()
		for i := range words {
			words[i] = 0
		}
	}
	zero(c.clientPriv)
	zero(c.x)
	zero(c.s)
	for i := range c.k {
		c.k[i] = 0
	}
	for i := range c.pin {
		c.pin[i] = 0
	}
	c.clientPriv, c.x, c.s, c.k, c.pin = nil, nil, nil, nil, nil
}
