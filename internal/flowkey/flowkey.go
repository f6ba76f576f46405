// Package flowkey implements the tagged-union flow identity (spec section 3
// "Flow key"): a v4 or v6 address pair plus ports and protocol, used as the
// map key for every flow table, the reassembler, and the output record's
// 5-tuple.
package flowkey

import (
	"fmt"
	"net"
)

// Family distinguishes the address variant carried by a Key.
type Family uint8

const (
	V4 Family = iota
	V6
)

// Key is the flow 5-tuple. Only one of the V4/V6 address pairs is valid,
// selected by Fam. Key is comparable and usable directly as a map key.
type Key struct {
	Fam      Family
	SrcV4    uint32
	DstV4    uint32
	SrcV6    [16]byte
	DstV6    [16]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// NewV4 builds a v4 flow key.
func NewV4(src, dst uint32, srcPort, dstPort uint16, protocol uint8) Key {
	return Key{Fam: V4, SrcV4: src, DstV4: dst, SrcPort: srcPort, DstPort: dstPort, Protocol: protocol}
}

// NewV6 builds a v6 flow key.
func NewV6(src, dst [16]byte, srcPort, dstPort uint16, protocol uint8) Key {
	return Key{Fam: V6, SrcV6: src, DstV6: dst, SrcPort: srcPort, DstPort: dstPort, Protocol: protocol}
}

// SrcIP renders the source address as a net.IP.
func (k Key) SrcIP() net.IP {
	if k.Fam == V4 {
		return v4Bytes(k.SrcV4)
	}
	ip := make(net.IP, 16)
	copy(ip, k.SrcV6[:])
	return ip
}

// DstIP renders the destination address as a net.IP.
func (k Key) DstIP() net.IP {
	if k.Fam == V4 {
		return v4Bytes(k.DstV4)
	}
	ip := make(net.IP, 16)
	copy(ip, k.DstV6[:])
	return ip
}

func v4Bytes(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// SrcIPString renders the source address in dotted (v4) or colon-hex (v6)
// form, matching the output record's src_ip field.
func (k Key) SrcIPString() string {
	return k.SrcIP().String()
}

// DstIPString renders the destination address in dotted (v4) or colon-hex
// (v6) form, matching the output record's dst_ip field.
func (k Key) DstIPString() string {
	return k.DstIP().String()
}

// String is a debug form, not used on the record-emission path.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", k.SrcIPString(), k.SrcPort, k.DstIPString(), k.DstPort, k.Protocol)
}
