package wire

import "encoding/binary"

// cursor reads fixed-width and length-prefixed fields out of a byte slice,
// reporting NeedMoreError rather than panicking when the slice runs out —
// the decoder never sees a partial frame as anything but "come back later".
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return needMore(n - c.remaining())
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, c.buf[c.pos:c.pos+n])
	c.pos += n
	return v, nil
}

// str reads a u8-length-prefixed string.
func (c *cursor) str() (string, error) {
	n, err := c.u8()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// blob reads a u32-length-prefixed binary blob, rejecting absurd declared
// lengths before attempting to allocate or wait for them.
func (c *cursor) blob(maxLen int) ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > maxLen {
		return nil, malformed("declared blob length exceeds maximum")
	}
	return c.bytes(int(n))
}

// writer accumulates an encoded frame.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = append(w.buf, byte(v>>8), byte(v)) }
func (w *writer) u32(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) str(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.u8(uint8(len(s)))
	w.bytes([]byte(s))
}

func (w *writer) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.bytes(b)
}
