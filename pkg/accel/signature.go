package accel

import (
	"regexp"

	"github.com/zeebo/blake3"
)

// Signature is the 32-byte structural hash of a normalized message.
// Two messages that differ only in volatile slot values (numbers,
// identifiers, timestamps) share a signature.
type Signature [32]byte

// signatureKey is the BLAKE3 keyed-hash domain key for session
// signatures. The byte values are the ASCII encoding of the domain
// name, zero-padded to 32 bytes, so the key is inspectable in hex
// dumps without weakening the keyed mode.
var signatureKey = [32]byte{
	'a', 'u', 'r', 'a', '.', 'a', 'c', 'c', 'e', 'l', '.',
	's', 'i', 'g', 'n', 'a', 't', 'u', 'r', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Volatile spans replaced during normalization, most specific first:
// timestamps before hex identifiers before bare numbers, so a
// timestamp is not shredded into digit runs.
var (
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?`)
	hexIDRe     = regexp.MustCompile(`\b(?:0x)?[0-9a-fA-F]{8,}\b`)
	numberRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// normalize replaces volatile spans with fixed markers so that
// structurally identical messages normalize to the same string. The
// markers use control bytes that cannot occur in conversational text.
func normalize(text string) string {
	out := timestampRe.ReplaceAllString(text, "\x01T\x01")
	out = hexIDRe.ReplaceAllString(out, "\x01X\x01")
	return numberRe.ReplaceAllString(out, "\x01N\x01")
}

// signature computes the keyed structural hash of text.
func signature(text string) Signature {
	hasher, err := blake3.NewKeyed(signatureKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which the
		// fixed-size array rules out.
		panic("accel: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write([]byte(normalize(text)))
	var sig Signature
	hasher.Sum(sig[:0])
	return sig
}
