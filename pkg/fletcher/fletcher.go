// Package fletcher implements the Fletcher-32 checksum used by Crownstone
// firmware to summarize stored behaviours.
//
// Input is consumed as little-endian 16-bit words; an odd trailing byte is
// padded with zero when the sum is read. The state is streaming: writing a
// buffer in several pieces yields the same sum as writing it at once.
package fletcher

import "hash"

// Size is the checksum size in bytes.
const Size = 4

const modulus = 0xFFFF

type digest struct {
	c0, c1  uint32
	pending byte
	odd     bool
}

// New returns a Fletcher-32 hash.Hash32 with a zero initial state.
func New() hash.Hash32 {
	return &digest{}
}

// Checksum returns the Fletcher-32 checksum of data.
func Checksum(data []byte) uint32 {
	d := digest{}
	d.Write(data)
	return d.Sum32()
}

func (d *digest) Write(p []byte) (int, error) {
	n := len(p)
	if d.odd && len(p) > 0 {
		d.addWord(uint16(d.pending) | uint16(p[0])<<8)
		d.odd = false
		p = p[1:]
	}
	for len(p) >= 2 {
		d.addWord(uint16(p[0]) | uint16(p[1])<<8)
		p = p[2:]
	}
	if len(p) == 1 {
		d.pending = p[0]
		d.odd = true
	}
	return n, nil
}

func (d *digest) addWord(w uint16) {
	d.c0 = (d.c0 + uint32(w)) % modulus
	d.c1 = (d.c1 + d.c0) % modulus
}

// Sum32 returns the checksum, padding a pending odd byte without consuming it.
func (d *digest) Sum32() uint32 {
	c0, c1 := d.c0, d.c1
	if d.odd {
		c0 = (c0 + uint32(d.pending)) % modulus
		c1 = (c1 + c0) % modulus
	}
	return c1<<16 | c0
}

func (d *digest) Sum(b []byte) []byte {
	s := d.Sum32()
	return append(b, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return 2 }
