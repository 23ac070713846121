// Package codec implements the primitives shared by every ffdb component:
// the base-64-alphabet position codec, CRC32, DEFLATE/INFLATE, and AES-CFB
// key derivation/streaming.
//
// This is deliberately a leaf package (C1 in the design): nothing here knows
// about index lines, entries, or flatfiles.
package codec

import "fmt"

// Alphabet is the 64-symbol positional notation used to encode positions and
// lengths in the index. It is NOT RFC 4648 base64 — the symbol order here is
// a deployment-wide wire-format constant; changing it breaks every existing
// index.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ{}"

var alphabetIndex [256]int8

func init() {
	for i := range alphabetIndex {
		alphabetIndex[i] = -1
	}
	for i, c := range Alphabet {
		alphabetIndex[byte(c)] = int8(i)
	}
}

// IntToB64 converts a non-negative integer to its base-64-alphabet
// representation, most significant symbol first. The integer zero maps to
// the single symbol "0".
func IntToB64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [32]byte // 64^11 > 2^63, 32 is generous headroom
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%64]
		n /= 64
	}
	return string(buf[i:])
}

// B64ToInt is the inverse of IntToB64. It returns an error if s contains a
// symbol outside the alphabet or is empty.
func B64ToInt(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("codec: empty base64 position string")
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		v := alphabetIndex[s[i]]
		if v < 0 {
			return 0, fmt.Errorf("codec: invalid base64 symbol %q in %q", s[i], s)
		}
		n = n*64 + uint64(v)
	}
	return n, nil
}
