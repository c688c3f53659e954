package rc5

import (
	"errors"
	"math/rand"
	"testing"
)

// Reference schedule for key 00 01 02 ... 0F.
var vectorSchedule = Schedule{
	0x8A07, 0x6E98, 0x585A, 0x8833, 0xB0B2, 0xB452, 0x5931, 0xE7FC,
	0xB9A2, 0x8C16, 0x0BFB, 0x2453, 0x7D1F, 0xF2E6, 0x0387, 0x2033,
	0xDF5B, 0xB1B5, 0x71F1, 0xCDA5, 0x6BCA, 0x8FCA, 0xF98B, 0x6273,
	0x9E64, 0x2023,
}

func vectorKey() []byte {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestExpandKeyVector(t *testing.T) {
	s, err := ExpandKey(vectorKey())
	if err != nil {
		t.Fatalf("ExpandKey() error = %v", err)
	}
	for i := range vectorSchedule {
		if s[i] != vectorSchedule[i] {
			t.Errorf("S[%d] = 0x%04X, want 0x%04X", i, s[i], vectorSchedule[i])
		}
	}
}

func TestEncryptVector(t *testing.T) {
	s, err := ExpandKey(vectorKey())
	if err != nil {
		t.Fatalf("ExpandKey() error = %v", err)
	}
	got := s.Encrypt([2]uint16{0x1234, 0x5678})
	want := [2]uint16{0xC6D1, 0xF352}
	if got != want {
		t.Errorf("Encrypt() = %04X, want %04X", got, want)
	}
	if back := s.Decrypt(got); back != [2]uint16{0x1234, 0x5678} {
		t.Errorf("Decrypt() = %04X", back)
	}
}

func TestExpandKeyOddLength(t *testing.T) {
	// A 3-byte key pads the second word with zero.
	s, err := ExpandKey([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("ExpandKey() error = %v", err)
	}
	want := []uint16{0xA2BF, 0xED7F, 0x2D5C, 0x8C8C}
	for i, w := range want {
		if s[i] != w {
			t.Errorf("S[%d] = 0x%04X, want 0x%04X", i, s[i], w)
		}
	}
}

func TestExpandKeyTooShort(t *testing.T) {
	for _, key := range [][]byte{nil, {}, {0x42}} {
		if _, err := ExpandKey(key); !errors.Is(err, ErrKeyTooShort) {
			t.Errorf("ExpandKey(%x) error = %v, want ErrKeyTooShort", key, err)
		}
	}
	if _, err := New([]byte{1}); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("New() error = %v, want ErrKeyTooShort", err)
	}
}

func TestExpandKeyDeterministic(t *testing.T) {
	a, _ := ExpandKey(vectorKey())
	b, _ := ExpandKey(vectorKey())
	if *a != *b {
		t.Error("same key produced different schedules")
	}

	swapped := vectorKey()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	c, _ := ExpandKey(swapped)
	if *a == *c {
		t.Error("schedule is insensitive to key byte order")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for k := 0; k < 8; k++ {
		key := make([]byte, MinKeySize+rng.Intn(30))
		rng.Read(key)
		s, err := ExpandKey(key)
		if err != nil {
			t.Fatalf("ExpandKey() error = %v", err)
		}
		for i := 0; i < 500; i++ {
			block := [2]uint16{uint16(rng.Uint32()), uint16(rng.Uint32())}
			if got := s.Decrypt(s.Encrypt(block)); got != block {
				t.Fatalf("Decrypt(Encrypt(%04X)) = %04X", block, got)
			}
		}
	}

	// Edge blocks.
	s, _ := ExpandKey(vectorKey())
	for _, block := range [][2]uint16{{0, 0}, {0xFFFF, 0xFFFF}, {0, 0xFFFF}, {0xFFFF, 0}} {
		if got := s.Decrypt(s.Encrypt(block)); got != block {
			t.Errorf("Decrypt(Encrypt(%04X)) = %04X", block, got)
		}
	}
}

func TestCipherUint32(t *testing.T) {
	c, err := New(vectorKey())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.EncryptUint32(0x56781234); got != 0xF352C6D1 {
		t.Errorf("EncryptUint32() = 0x%08X, want 0xF352C6D1", got)
	}
	for _, v := range []uint32{0, 1, 0xFFFFFFFF, 0x80000000, 0x0000FFFF} {
		if got := c.DecryptUint32(c.EncryptUint32(v)); got != v {
			t.Errorf("DecryptUint32(EncryptUint32(0x%08X)) = 0x%08X", v, got)
		}
	}
	if c.Schedule() != vectorSchedule {
		t.Error("Schedule() does not match reference")
	}
}
