// Package datum implements a non-owning, bounded byte-range view used by
// every protocol parser in netfpd. It mirrors mercury's parser.h contract:
// a parser either consumes exactly the bytes of its message, signals
// incomplete without consuming, or empties itself to signal malformed
// input. Nothing in this package allocates on the read path.
package datum

import "encoding/binary"

// Datum is a view over data[offset:end] of an underlying slice. It never
// copies the underlying bytes; callers must not retain a Datum past the
// lifetime of the buffer it was built from.
type Datum struct {
	data []byte
}

// New returns a Datum over b. b is not copied.
func New(b []byte) Datum {
	return Datum{data: b}
}

// IsEmpty reports whether the Datum has no remaining bytes. A Datum
// becomes empty after a short read or an explicit SetEmpty call, and an
// empty Datum can never be repopulated.
func (d *Datum) IsEmpty() bool {
	return len(d.data) == 0
}

// IsNotEmpty is the mercury-style inverse of IsEmpty, kept for call sites
// that read more naturally as a positive assertion.
func (d *Datum) IsNotEmpty() bool {
	return !d.IsEmpty()
}

// SetEmpty marks the Datum as failed/malformed. Downstream parsers that
// check IsEmpty short-circuit instead of reading past a bad boundary.
func (d *Datum) SetEmpty() {
	d.data = nil
}

// Remaining returns the number of bytes left in the view.
func (d *Datum) Remaining() int {
	return len(d.data)
}

// Bytes returns the remaining bytes without consuming them.
func (d *Datum) Bytes() []byte {
	return d.data
}

// Skip advances the Datum by n bytes. If fewer than n bytes remain, the
// Datum is emptied and Skip reports false.
func (d *Datum) Skip(n int) bool {
	if n < 0 || n > len(d.data) {
		d.SetEmpty()
		return false
	}
	d.data = d.data[n:]
	return true
}

// ReadBytes copies the next n bytes into out (which must have length n)
// and advances past them. On short read, the Datum is emptied and false
// is returned; out is left untouched.
func (d *Datum) ReadBytes(n int, out []byte) bool {
	if n < 0 || n > len(d.data) || len(out) < n {
		d.SetEmpty()
		return false
	}
	copy(out, d.data[:n])
	d.data = d.data[n:]
	return true
}

// ReadUintBE reads an n-byte (1..8) big-endian unsigned integer and
// advances past it. On short read the Datum is emptied and ok is false.
func (d *Datum) ReadUintBE(n int) (v uint64, ok bool) {
	if n < 1 || n > 8 || n > len(d.data) {
		d.SetEmpty()
		return 0, false
	}
	var buf [8]byte
	copy(buf[8-n:], d.data[:n])
	v = binary.BigEndian.Uint64(buf[:])
	d.data = d.data[n:]
	return v, true
}

// GetByteString returns the remaining bytes and empties the Datum, the
// mercury get_string()/get_bytestring() convenience for "take the rest".
func (d *Datum) GetByteString() []byte {
	b := d.data
	d.data = nil
	return b
}

// Split returns the first n bytes as a prefix Datum and advances the
// receiver past them, leaving it as the suffix. On short read the
// receiver is emptied and ok is false; the returned prefix is invalid.
func (d *Datum) Split(n int) (prefix Datum, ok bool) {
	if n < 0 || n > len(d.data) {
		d.SetEmpty()
		return Datum{}, false
	}
	prefix = Datum{data: d.data[:n]}
	d.data = d.data[n:]
	return prefix, true
}

// FindDelim returns the offset of the first occurrence of pattern within
// the remaining bytes, or Remaining() if not found (mercury's
// "offset_or_end" convention -- never -1).
func (d *Datum) FindDelim(pattern []byte) int {
	if len(pattern) == 0 || len(pattern) > len(d.data) {
		return len(d.data)
	}
	for i := 0; i+len(pattern) <= len(d.data); i++ {
		if string(d.data[i:i+len(pattern)]) == string(pattern) {
			return i
		}
	}
	return len(d.data)
}

// SkipTo advances past the given delimiter, including it. If the
// delimiter is not found the Datum is emptied.
func (d *Datum) SkipTo(pattern []byte) bool {
	off := d.FindDelim(pattern)
	if off == len(d.data) {
		d.SetEmpty()
		return false
	}
	return d.Skip(off + len(pattern))
}

// CaseInsensitiveMatch reports whether the remaining bytes begin with
// other, compared ASCII-case-insensitively. It does not consume.
func (d *Datum) CaseInsensitiveMatch(other []byte) bool {
	if len(other) > len(d.data) {
		return false
	}
	for i := range other {
		a, b := d.data[i], other[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Accept consumes the remaining bytes as a prefix match against pattern;
// it only succeeds (and advances) if the full pattern is present.
func (d *Datum) Accept(pattern []byte) bool {
	if !d.CaseInsensitiveMatch(pattern) {
		return false
	}
	return d.Skip(len(pattern))
}
