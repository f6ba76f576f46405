// Package dhcp parses a DHCPv4 message (RFC 2131), enough to fingerprint a
// DHCPDISCOVER by its option ordering -- the field clients vary on
// (spec section 4.2, "DHCP").
package dhcp

import (
	"strconv"
	"strings"

	"github.com/gravwell/netfpd/internal/datum"
)

const magicCookie = 0x63825363

// MessageType is the DHCP message type (option 53).
type MessageType byte

const (
	Discover MessageType = 1
	Offer    MessageType = 2
	Request  MessageType = 3
	Ack      MessageType = 5
)

// Message is the parsed subset of a DHCPv4 message needed for
// fingerprinting.
type Message struct {
	Op            byte
	TransactionID uint32
	ClientIP      [4]byte
	YourIP        [4]byte
	ClientMAC     [6]byte
	MessageType   MessageType
	ParamRequest  []byte // option 55, the parameter request list -- the main fingerprint surface
	VendorClass   string // option 60
}

// Parse parses a DHCPv4 message from b, following RFC 2131's fixed header
// layout (op,htype,hlen,hops,xid,secs,flags,ciaddr,yiaddr,siaddr,giaddr,
// chaddr,sname,file) before the magic cookie and options.
func Parse(b []byte) (Message, bool) {
	d := datum.New(b)

	op, ok := d.ReadUintBE(1)
	if !ok {
		return Message{}, false
	}
	if !d.Skip(3) { // htype, hlen, hops
		return Message{}, false
	}
	xid, ok := d.ReadUintBE(4)
	if !ok {
		return Message{}, false
	}
	if !d.Skip(2 + 2) { // secs, flags
		return Message{}, false
	}

	msg := Message{Op: byte(op), TransactionID: uint32(xid)}

	var ciaddr, yiaddr, siaddr, giaddr [4]byte
	if !d.ReadBytes(4, ciaddr[:]) {
		return Message{}, false
	}
	if !d.ReadBytes(4, yiaddr[:]) {
		return Message{}, false
	}
	if !d.ReadBytes(4, siaddr[:]) {
		return Message{}, false
	}
	if !d.ReadBytes(4, giaddr[:]) {
		return Message{}, false
	}
	var chaddr [16]byte
	if !d.ReadBytes(16, chaddr[:]) {
		return Message{}, false
	}
	msg.ClientIP = ciaddr
	msg.YourIP = yiaddr
	copy(msg.ClientMAC[:], chaddr[:6])

	if !d.Skip(64) { // sname
		return Message{}, false
	}
	if !d.Skip(128) { // file
		return Message{}, false
	}

	cookie, ok := d.ReadUintBE(4)
	if !ok || uint32(cookie) != magicCookie {
		return Message{}, false
	}

	for d.Remaining() > 0 {
		optV, ok := d.ReadUintBE(1)
		if !ok {
			break
		}
		opt := byte(optV)
		if opt == 0xFF { // End
			break
		}
		if opt == 0x00 { // Pad
			continue
		}
		lenV, ok := d.ReadUintBE(1)
		if !ok {
			break
		}
		val, ok := d.Split(int(lenV))
		if !ok {
			break
		}
		switch opt {
		case 53:
			if vb := val.Bytes(); len(vb) == 1 {
				msg.MessageType = MessageType(vb[0])
			}
		case 55:
			msg.ParamRequest = val.Bytes()
		case 60:
			msg.VendorClass = string(val.Bytes())
		}
	}

	return msg, true
}

// Fingerprint renders a deterministic fingerprint from the option-55
// parameter request list, the field DHCP fingerprinting tools (e.g.
// fingerbank) rely on most heavily.
func (m Message) Fingerprint() string {
	var b strings.Builder
	for i, p := range m.ParamRequest {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(p)))
	}
	return b.String()
}
