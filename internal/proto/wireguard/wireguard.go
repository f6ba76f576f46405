// Package wireguard parses the WireGuard handshake-initiation message
// (RFC-adjacent design in the WireGuard whitepaper section 5.4.2), enough
// to fingerprint a handshake-init by its fixed structure without
// attempting to decrypt any of the Noise-protocol payloads it carries
// (spec section 4.2, "WireGuard"; non-goal: decryption of user payload).
package wireguard

import (
	"github.com/gravwell/netfpd/internal/datum"
)

const (
	typeHandshakeInitiation byte = 1
	typeHandshakeResponse   byte = 2
	typeCookieReply         byte = 3
	typeTransportData       byte = 4

	handshakeInitiationLen = 148 // fixed wire length per the whitepaper
)

// HandshakeInitiation is the parsed first message of a WireGuard
// handshake. The encrypted fields (ephemeral key, encrypted static key,
// encrypted timestamp) are carried as opaque bytes -- they're never
// decrypted, only their presence and length matter for fingerprinting.
type HandshakeInitiation struct {
	SenderIndex       uint32
	UnencryptedEphemeral [32]byte
	EncryptedStatic      [48]byte // 32-byte key + 16-byte AEAD tag
	EncryptedTimestamp   [28]byte // 12-byte timestamp + 16-byte AEAD tag
	MAC1                 [16]byte
	MAC2                 [16]byte
}

// Parse parses a handshake-initiation message. WireGuard messages have no
// internal length field and arrive whole in a single UDP datagram, so an
// exact-length check is both necessary and sufficient.
func Parse(b []byte) (HandshakeInitiation, bool) {
	if len(b) != handshakeInitiationLen {
		return HandshakeInitiation{}, false
	}
	d := datum.New(b)

	typ, ok := d.ReadUintBE(1)
	if !ok || byte(typ) != typeHandshakeInitiation {
		return HandshakeInitiation{}, false
	}
	if !d.Skip(3) { // reserved, must be zero
		return HandshakeInitiation{}, false
	}

	var hi HandshakeInitiation
	var senderIdx [4]byte // little-endian on the wire
	if !d.ReadBytes(4, senderIdx[:]) {
		return HandshakeInitiation{}, false
	}
	hi.SenderIndex = uint32(senderIdx[0]) | uint32(senderIdx[1])<<8 | uint32(senderIdx[2])<<16 | uint32(senderIdx[3])<<24

	if !d.ReadBytes(32, hi.UnencryptedEphemeral[:]) {
		return HandshakeInitiation{}, false
	}
	if !d.ReadBytes(48, hi.EncryptedStatic[:]) {
		return HandshakeInitiation{}, false
	}
	if !d.ReadBytes(28, hi.EncryptedTimestamp[:]) {
		return HandshakeInitiation{}, false
	}
	if !d.ReadBytes(16, hi.MAC1[:]) {
		return HandshakeInitiation{}, false
	}
	if !d.ReadBytes(16, hi.MAC2[:]) {
		return HandshakeInitiation{}, false
	}
	return hi, true
}

// Fingerprint is constant for every handshake-initiation message -- the
// message's fixed, content-free structure is itself the signal that
// identifies WireGuard on the wire; there is no client-visible variance
// to fingerprint beyond message type and length.
func (HandshakeInitiation) Fingerprint() string {
	return "wg-handshake-init"
}
