package rc5

// Cipher holds the schedule for one key so it is expanded only once.
// It is immutable and safe for concurrent use.
type Cipher struct {
	schedule *Schedule
}

// New expands key and returns a Cipher bound to it.
func New(key []byte) (*Cipher, error) {
	s, err := ExpandKey(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{schedule: s}, nil
}

// Schedule returns a copy of the expanded key.
func (c *Cipher) Schedule() Schedule {
	return *c.schedule
}

// Encrypt encrypts one two-word block.
func (c *Cipher) Encrypt(block [2]uint16) [2]uint16 {
	return c.schedule.Encrypt(block)
}

// Decrypt decrypts one two-word block.
func (c *Cipher) Decrypt(block [2]uint16) [2]uint16 {
	return c.schedule.Decrypt(block)
}

// EncryptUint32 encrypts v as a block whose first word is the low half.
func (c *Cipher) EncryptUint32(v uint32) uint32 {
	return joinWords(c.schedule.Encrypt(splitWords(v)))
}

// DecryptUint32 inverts EncryptUint32.
func (c *Cipher) DecryptUint32(v uint32) uint32 {
	return joinWords(c.schedule.Decrypt(splitWords(v)))
}

func splitWords(v uint32) [2]uint16 {
	return [2]uint16{uint16(v), uint16(v >> 16)}
}

func joinWords(b [2]uint16) uint32 {
	return uint32(b[0]) | uint32(b[1])<<16
}
