// Package probe implements the engine's message-type signature probes
// (spec section 4.2 "Message-type probe"): a short, constant-time byte
// match that classifies TCP and UDP payloads into a fixed set of message
// types before any full parse is attempted. Probes never allocate and
// never consume from the Datum they're given -- they only peek.
package probe

import (
	"encoding/binary"

	"github.com/gravwell/netfpd/internal/proto/tls"
	"github.com/gravwell/netfpd/internal/proto/udp"
)

// TCPMessageType is the result of probing a TCP payload.
type TCPMessageType int

const (
	TCPUnknown TCPMessageType = iota
	TCPHTTPRequest
	TCPHTTPResponse
	TCPTLSClientHello
	TCPTLSServerHello
	TCPTLSCertificate
	TCPSSH
	TCPSSHKex
)

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("HEAD "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "),
	[]byte("TRACE "),
}

// ProbeTCP classifies a TCP payload's message type by its leading bytes.
func ProbeTCP(b []byte) TCPMessageType {
	if len(b) >= 4 && string(b[:4]) == "HTTP" {
		return TCPHTTPResponse
	}
	for _, m := range httpMethods {
		if len(b) >= len(m) && string(b[:len(m)]) == string(m) {
			return TCPHTTPRequest
		}
	}
	if len(b) >= 4 && string(b[:4]) == "SSH-" {
		return TCPSSH
	}
	if tls.IsValid(b) {
		if ct := tlsContentType(b); ct == tls.ContentHandshake {
			switch handshakeType(b) {
			case tls.HandshakeClientHello:
				return TCPTLSClientHello
			case tls.HandshakeServerHello:
				return TCPTLSServerHello
			case tls.HandshakeCertificate:
				return TCPTLSCertificate
			}
		}
	}
	if looksLikeSSHKexInit(b) {
		return TCPSSHKex
	}
	return TCPUnknown
}

func tlsContentType(b []byte) tls.ContentType {
	if len(b) < 1 {
		return 0
	}
	return tls.ContentType(b[0])
}

func handshakeType(b []byte) tls.HandshakeType {
	if len(b) < 6 {
		return 0
	}
	return tls.HandshakeType(b[5])
}

// looksLikeSSHKexInit checks the binary SSH packet framing (4-byte
// length, 1-byte padding length, SSH_MSG_KEXINIT=20) without validating
// the rest of the payload -- the full parse in the ssh package handles
// malformed input from here on.
func looksLikeSSHKexInit(b []byte) bool {
	if len(b) < 6 {
		return false
	}
	plen := binary.BigEndian.Uint32(b[0:4])
	if plen == 0 || plen > uint32(len(b)) {
		return false
	}
	return b[5] == 20
}

// UDPMessageType is the result of probing a UDP payload.
type UDPMessageType int

const (
	UDPUnknown UDPMessageType = iota
	UDPQUIC
	UDPWireGuard
	UDPDNS
	UDPDTLSClientHello
	UDPDTLSServerHello
	UDPDTLSCertificate
	UDPDHCP
	UDPVXLAN
)

// ProbeUDP classifies a UDP payload's message type by its leading bytes,
// falling back to port-based heuristics (udp.EstimateFromPorts) when the
// payload signature is inconclusive.
func ProbeUDP(b []byte, h udp.Header) UDPMessageType {
	if len(b) >= 1 {
		first := b[0]
		if first&0x80 != 0 && len(b) >= 5 {
			ver := binary.BigEndian.Uint32(b[1:5])
			if ver == 1 {
				return UDPQUIC
			}
		}
		if first == 1 && len(b) == 148 {
			return UDPWireGuard
		}
		if first == 22 && len(b) >= 13 { // DTLS ContentHandshake
			switch dtlsHandshakeType(b) {
			case tls.HandshakeClientHello:
				return UDPDTLSClientHello
			case tls.HandshakeServerHello:
				return UDPDTLSServerHello
			case tls.HandshakeCertificate:
				return UDPDTLSCertificate
			}
		}
		if first == 1 && len(b) >= 240 { // DHCP op=BOOTREQUEST, min header size
			return UDPDHCP
		}
	}
	switch udp.EstimateFromPorts(h) {
	case udp.FallbackDNS:
		return UDPDNS
	case udp.FallbackVXLAN:
		return UDPVXLAN
	}
	return UDPUnknown
}

func dtlsHandshakeType(b []byte) tls.HandshakeType {
	// DTLS record header is 13 bytes (type,version(2),epoch(2),seq(6),len(2));
	// the handshake type byte follows immediately.
	if len(b) < 14 {
		return 0
	}
	return tls.HandshakeType(b[13])
}
