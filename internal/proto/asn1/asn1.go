// Package asn1 implements the shared ASN.1 TLV decoder used while parsing
// X.509 certificates inside TLS ServerHello/Certificate records (spec
// section 4.2 "ASN.1 TLV"). It is a minimal, allocation-light reader: tag,
// length (short or long form), and a value slice view over the input, plus
// the OID and time-string conventions spec.md spells out explicitly.
package asn1

import (
	"fmt"
	"strings"

	"github.com/gravwell/netfpd/internal/datum"
)

// Tag is the ASN.1 universal tag number (low 5 bits of the tag byte); this
// package does not track class/constructed bits beyond what's needed to
// recognize the fixed tag set spec.md names.
type Tag byte

const (
	TagBoolean         Tag = 0x01
	TagInteger         Tag = 0x02
	TagBitString       Tag = 0x03
	TagOctetString     Tag = 0x04
	TagNull            Tag = 0x05
	TagOID             Tag = 0x06
	TagUTF8String      Tag = 0x0C
	TagSequence        Tag = 0x10
	TagSet             Tag = 0x11
	TagPrintableString Tag = 0x13
	TagIA5String       Tag = 0x16
	TagUTCTime         Tag = 0x17
	TagGeneralizedTime Tag = 0x18
)

// TLV is one decoded tag/length/value triple. Value is a view over the
// input, not a copy.
type TLV struct {
	Class       byte // 0=universal,1=application,2=context,3=private
	Constructed bool
	Tag         Tag
	RawTag      byte
	Value       []byte
}

// ReadTLV reads one TLV from d, advancing past it. On short/malformed
// input d is emptied and ok is false.
func ReadTLV(d *datum.Datum) (TLV, bool) {
	tagByte, ok := d.ReadUintBE(1)
	if !ok {
		return TLV{}, false
	}
	lenByte, ok := d.ReadUintBE(1)
	if !ok {
		return TLV{}, false
	}

	var length int
	if lenByte&0x80 == 0 {
		length = int(lenByte)
	} else {
		nOctets := int(lenByte &^ 0x80)
		if nOctets == 0 || nOctets > 4 {
			d.SetEmpty()
			return TLV{}, false
		}
		v, ok := d.ReadUintBE(nOctets)
		if !ok {
			return TLV{}, false
		}
		length = int(v)
	}

	prefix, ok := d.Split(length)
	if !ok {
		return TLV{}, false
	}

	return TLV{
		Class:       byte(tagByte>>6) & 0x03,
		Constructed: tagByte&0x20 != 0,
		Tag:         Tag(tagByte & 0x1F),
		RawTag:      byte(tagByte),
		Value:       prefix.Bytes(),
	}, true
}

// DecodeOID renders an OID value (the bytes after tag/length) as
// "d1.d2.d3...", per spec.md's "first/40, first%40, then base-128
// varints" rule.
func DecodeOID(value []byte) (string, bool) {
	if len(value) == 0 {
		return "", false
	}
	var parts []string
	first := int(value[0])
	parts = append(parts, fmt.Sprintf("%d", first/40), fmt.Sprintf("%d", first%40))

	i := 1
	for i < len(value) {
		v := 0
		for {
			if i >= len(value) {
				return "", false
			}
			b := value[i]
			i++
			v = v<<7 | int(b&0x7F)
			if b&0x80 == 0 {
				break
			}
		}
		parts = append(parts, fmt.Sprintf("%d", v))
	}
	return strings.Join(parts, "."), true
}

// EncodeOID is the inverse of DecodeOID, used only by tests to verify the
// base-128 round-trip property spec section 8 requires.
func EncodeOID(oid string) ([]byte, bool) {
	parts := strings.Split(oid, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var d1, d2 int
	if _, err := fmt.Sscanf(parts[0], "%d", &d1); err != nil {
		return nil, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &d2); err != nil {
		return nil, false
	}
	out := []byte{byte(d1*40 + d2)}
	for _, p := range parts[2:] {
		var v int
		if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
			return nil, false
		}
		out = append(out, encodeBase128(v)...)
	}
	return out, true
}

func encodeBase128(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var groups []byte
	for v > 0 {
		groups = append([]byte{byte(v & 0x7F)}, groups...)
		v >>= 7
	}
	for i := 0; i < len(groups)-1; i++ {
		groups[i] |= 0x80
	}
	return groups
}

// ExpandUTCTime expands a UTCTime string "YYMMDDhhmmssZ" to a
// GeneralizedTime-form string "YYYYMMDDHHMMSSZ", applying the YY<50 ->
// 20YY, else 19YY pivot spec.md specifies.
func ExpandUTCTime(utc string) (string, bool) {
	if len(utc) != 13 || utc[12] != 'Z' {
		return "", false
	}
	yy := utc[0:2]
	var century string
	var n int
	if _, err := fmt.Sscanf(yy, "%d", &n); err != nil {
		return "", false
	}
	if n < 50 {
		century = "20"
	} else {
		century = "19"
	}
	return century + utc, true
}
