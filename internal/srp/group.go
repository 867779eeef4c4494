package srp

import "math/big"

// group5Hex is the 3072-bit MODP group from RFC 5054 §3.3.
const group5Hex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF69558171839954970CEA956AE515D226189FA051015728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E208E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

// groupG5 is the 3072-bit SRP group generator.
const groupG5 = 5

// Group holds the modulus and generator for the SRP-6a group in use.
type Group struct {
	N *big.Int
	G *big.Int
	// NLen is the fixed byte width used for PAD() operations.
	NLen int
}

// Group5 is RFC 5054's 3072-bit group, SHA-512 hashed, as used by
// HomeKit/Pair-Setup (spec.md §4.2).
func Group5() Group {
	n := new(big.Int)
	n.SetString(group5Hex, 16)
	return Group{N: n, G: big.NewInt(groupG5), NLen: 384}
}

// pad left-pads v's big-endian bytes to the group's fixed width.
func (g Group) pad(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= g.NLen {
		return b[len(b)-g.NLen:]
	}
	out := make([]byte, g.NLen)
	copy(out[g.NLen-len(b):], b)
	return out
}
