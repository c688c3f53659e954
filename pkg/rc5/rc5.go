// Package rc5 implements RC5 with 16-bit words (RC5-16/12/b).
//
// Crownstone broadcasts carry no link-layer encryption, so a handful of
// header bits (notably the validation timestamp) are obscured with this
// 32-bit block cipher before being packed into the advertisement.
package rc5

import (
	"errors"
	"math/bits"
)

const (
	// Rounds is the number of encryption rounds.
	Rounds = 12

	// SubKeyCount is the size of the expanded key schedule: 2*(Rounds+1).
	SubKeyCount = 2 * (Rounds + 1)

	// MinKeySize is the shortest accepted key, one 16-bit word.
	MinKeySize = 2

	// wordBytes is the number of key bytes packed into one word.
	wordBytes = 2

	// Magic constants for w = 16, derived from e and the golden ratio.
	magicP uint16 = 0xB7E1
	magicQ uint16 = 0x9E37
)

// ErrKeyTooShort is returned by ExpandKey for keys below MinKeySize.
var ErrKeyTooShort = errors.New("rc5: key too short")

// Schedule is an expanded key.
type Schedule [SubKeyCount]uint16

// ExpandKey derives the sub-key schedule from a key of any length of at
// least MinKeySize bytes. The result depends only on the key bytes.
func ExpandKey(key []byte) (*Schedule, error) {
	if len(key) < MinKeySize {
		return nil, ErrKeyTooShort
	}

	// Load the key into little-endian words, zero-padding the last one.
	c := (len(key) + wordBytes - 1) / wordBytes
	l := make([]uint16, c)
	for i := len(key) - 1; i >= 0; i-- {
		l[i/wordBytes] = l[i/wordBytes]<<8 + uint16(key[i])
	}

	s := new(Schedule)
	s[0] = magicP
	for i := 1; i < SubKeyCount; i++ {
		s[i] = s[i-1] + magicQ
	}

	// Three passes over the longer of the two arrays.
	n := 3 * max(SubKeyCount, c)
	var a, b uint16
	i, j := 0, 0
	for k := 0; k < n; k++ {
		s[i] = rotl(s[i]+a+b, 3)
		a = s[i]
		l[j] = rotl(l[j]+a+b, a+b)
		b = l[j]
		i = (i + 1) % SubKeyCount
		j = (j + 1) % c
	}

	return s, nil
}

// Encrypt encrypts one two-word block.
func (s *Schedule) Encrypt(block [2]uint16) [2]uint16 {
	a := block[0] + s[0]
	b := block[1] + s[1]
	for i := 1; i <= Rounds; i++ {
		a = rotl(a^b, b) + s[2*i]
		b = rotl(b^a, a) + s[2*i+1]
	}
	return [2]uint16{a, b}
}

// Decrypt inverts Encrypt.
func (s *Schedule) Decrypt(block [2]uint16) [2]uint16 {
	a, b := block[0], block[1]
	for i := Rounds; i >= 1; i-- {
		b = rotr(b-s[2*i+1], a) ^ a
		a = rotr(a-s[2*i], b) ^ b
	}
	return [2]uint16{a - s[0], b - s[1]}
}

func rotl(x, n uint16) uint16 {
	return bits.RotateLeft16(x, int(n&15))
}

func rotr(x, n uint16) uint16 {
	return bits.RotateLeft16(x, -int(n&15))
}
