package audit

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// chainHash is one link of a stream's hash chain.
type chainHash [32]byte

// genesis seeds every stream's chain. It is a fixed public value;
// tamper evidence comes from the keyed MAC, not from hiding the
// seed. The bytes are ASCII, zero-padded to 32.
var genesis = chainHash{
	'a', 'u', 'r', 'a', '.', 'a', 'u', 'd', 'i', 't', '.',
	'g', 'e', 'n', 'e', 's', 'i', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// chainKeyContext is the BLAKE3 key-derivation context for the chain
// MAC key. Deriving from the caller's secret means any secret length
// is accepted while the MAC always uses a full 32-byte key.
const chainKeyContext = "aura audit chain mac v1"

func deriveChainKey(secret []byte) [32]byte {
	var key [32]byte
	blake3.DeriveKey(chainKeyContext, secret, key[:])
	return key
}

// nextChain computes h[i] = MAC(key, h[i-1] || payload).
func nextChain(key [32]byte, prev chainHash, payload []byte) chainHash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only fails on a wrong key length, which the array rules
		// out.
		panic("audit: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(prev[:])
	hasher.Write(payload)
	var h chainHash
	hasher.Sum(h[:0])
	return h
}

func (h chainHash) hex() string { return hex.EncodeToString(h[:]) }

func parseChainHex(s string) (chainHash, bool) {
	var h chainHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, false
	}
	copy(h[:], b)
	return h, true
}
