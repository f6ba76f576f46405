// Package quic removes header protection and decrypts the first CRYPTO
// frame of a QUIC Initial packet, using the version-specific initial
// salt (RFC 9001 section 5.2) to derive the client Initial AEAD key,
// IV, and header-protection key via HKDF. The recovered plaintext is
// handed to the tls package as a handshake message; the embedded
// ClientHello is fingerprinted identically to a plain TLS ClientHello
// (spec section 4.2, "QUIC initial"). This is the one piece of the
// engine that performs real cryptographic decoding -- deliberately,
// since QUIC's Initial keys are derived from public, well-known
// material and protect no actual secret.
package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/hkdf"

	"github.com/gravwell/netfpd/internal/datum"
	"github.com/gravwell/netfpd/internal/proto/tls"
)

// initialSaltV1 is the QUIC version 1 Initial salt (RFC 9001 section 5.2).
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

const version1 uint32 = 1

// LongHeader is the subset of a QUIC long-header Initial packet the
// engine needs: the version, the destination connection ID (used to key
// derivation), and the raw packet bytes from the first byte onward (so
// header protection removal can operate in place on a copy).
type LongHeader struct {
	Version  uint32
	DestConnID []byte
	Raw        []byte // the whole packet, unmodified
}

const longHeaderForm = 0x80
const packetTypeInitial = 0x00 // bits 4-5 of the first byte, for long headers

// ParseLongHeader reads just enough of a QUIC long header to identify an
// Initial packet and extract the destination connection ID, without
// touching anything that's still header-protected.
func ParseLongHeader(b []byte) (LongHeader, bool) {
	d := datum.New(b)
	first, ok := d.ReadUintBE(1)
	if !ok || first&longHeaderForm == 0 {
		return LongHeader{}, false
	}
	if (first>>4)&0x3 != packetTypeInitial {
		return LongHeader{}, false
	}
	verV, ok := d.ReadUintBE(4)
	if !ok {
		return LongHeader{}, false
	}
	dcidLen, ok := d.ReadUintBE(1)
	if !ok {
		return LongHeader{}, false
	}
	dcid, ok := d.Split(int(dcidLen))
	if !ok {
		return LongHeader{}, false
	}
	return LongHeader{Version: uint32(verV), DestConnID: dcid.Bytes(), Raw: b}, true
}

// hkdfExpandLabel implements RFC 8446 section 7.1's HKDF-Expand-Label
// using the TLS 1.3 wire format, which RFC 9001 reuses verbatim for QUIC
// key derivation.
func hkdfExpandLabel(secret []byte, label string, length int) ([]byte, error) {
	var info []byte
	info = append(info, byte(length>>8), byte(length))
	full := "tls13 " + label
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, 0) // empty context
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

type initialKeys struct {
	key [16]byte
	iv  [12]byte
	hp  [16]byte
}

func deriveInitialKeys(dcid []byte, salt []byte) (initialKeys, error) {
	initialSecret := hkdf.Extract(sha256.New, dcid, salt)
	clientSecret, err := hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	if err != nil {
		return initialKeys{}, err
	}
	var ik initialKeys
	k, err := hkdfExpandLabel(clientSecret, "quic key", 16)
	if err != nil {
		return initialKeys{}, err
	}
	copy(ik.key[:], k)
	iv, err := hkdfExpandLabel(clientSecret, "quic iv", 12)
	if err != nil {
		return initialKeys{}, err
	}
	copy(ik.iv[:], iv)
	hp, err := hkdfExpandLabel(clientSecret, "quic hp", 16)
	if err != nil {
		return initialKeys{}, err
	}
	copy(ik.hp[:], hp)
	return ik, nil
}

// removeHeaderProtection undoes AES-ECB-based header protection (RFC 9001
// section 5.4) in place on a mutable copy of the packet, returning the
// recovered packet-number length and the first byte with its protected
// bits cleared.
func removeHeaderProtection(pkt []byte, pnOffset int, hpKey [16]byte) (firstByte byte, pnLen int, err error) {
	if len(pkt) < pnOffset+4+16 {
		return 0, 0, errors.New("quic: packet too short for header protection sample")
	}
	sampleOffset := pnOffset + 4
	sample := pkt[sampleOffset : sampleOffset+16]

	block, err := aes.NewCipher(hpKey[:])
	if err != nil {
		return 0, 0, err
	}
	mask := make([]byte, 16)
	block.Encrypt(mask, sample)

	pkt[0] ^= mask[0] & 0x0f
	pnLen = int(pkt[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		pkt[pnOffset+i] ^= mask[1+i]
	}
	return pkt[0], pnLen, nil
}

// DecryptInitialClientHello locates, decrypts, and reassembles the CRYPTO
// frame of a QUIC Initial packet, returning the embedded TLS ClientHello.
func DecryptInitialClientHello(b []byte) (tls.ClientHello, bool) {
	lh, ok := ParseLongHeader(b)
	if !ok || lh.Version != version1 {
		return tls.ClientHello{}, false
	}

	d := datum.New(b)
	if !d.Skip(1 + 4) { // first byte, version
		return tls.ClientHello{}, false
	}
	if !d.Skip(1 + len(lh.DestConnID)) { // dcid len + dcid
		return tls.ClientHello{}, false
	}
	scidLen, ok := d.ReadUintBE(1)
	if !ok {
		return tls.ClientHello{}, false
	}
	if !d.Skip(int(scidLen)) {
		return tls.ClientHello{}, false
	}
	tokenLen, ok := readVarint(&d)
	if !ok {
		return tls.ClientHello{}, false
	}
	if !d.Skip(int(tokenLen)) {
		return tls.ClientHello{}, false
	}
	_, ok = readVarint(&d) // packet length, re-derived from slice bounds below
	if !ok {
		return tls.ClientHello{}, false
	}
	pnOffset := len(b) - d.Remaining()

	ik, err := deriveInitialKeys(lh.DestConnID, initialSaltV1)
	if err != nil {
		return tls.ClientHello{}, false
	}

	pktCopy := append([]byte(nil), b...)
	firstByte, pnLen, err := removeHeaderProtection(pktCopy, pnOffset, ik.hp)
	if err != nil {
		return tls.ClientHello{}, false
	}
	_ = firstByte

	pn := uint64(0)
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(pktCopy[pnOffset+i])
	}

	headerLen := pnOffset + pnLen
	aad := pktCopy[:headerLen]
	ciphertext := pktCopy[headerLen:]

	nonce := make([]byte, 12)
	copy(nonce, ik.iv[:])
	var pnBytes [12]byte
	binary.BigEndian.PutUint64(pnBytes[4:], pn)
	for i := range nonce {
		nonce[i] ^= pnBytes[i]
	}

	block, err := aes.NewCipher(ik.key[:])
	if err != nil {
		return tls.ClientHello{}, false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return tls.ClientHello{}, false
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return tls.ClientHello{}, false
	}

	cryptoBody, ok := extractCryptoFrame(plaintext)
	if !ok {
		return tls.ClientHello{}, false
	}

	hd := datum.New(cryptoBody)
	hs, needed, ok := tls.ParseHandshake(&hd)
	if !ok || needed != 0 || hs.Type != tls.HandshakeClientHello {
		return tls.ClientHello{}, false
	}
	return tls.ParseClientHello(hs.Body)
}

// extractCryptoFrame scans decrypted Initial-packet payload for the first
// CRYPTO frame (type 0x06: offset varint, length varint, data) and
// returns its data, skipping PADDING (0x00) and PING (0x01) frames that
// commonly precede it.
func extractCryptoFrame(plaintext []byte) ([]byte, bool) {
	d := datum.New(plaintext)
	for d.Remaining() > 0 {
		typ, ok := d.ReadUintBE(1)
		if !ok {
			return nil, false
		}
		switch typ {
		case 0x00, 0x01: // PADDING, PING
			continue
		case 0x06: // CRYPTO
			offset, ok := readVarint(&d)
			if !ok {
				return nil, false
			}
			length, ok := readVarint(&d)
			if !ok {
				return nil, false
			}
			data, ok := d.Split(int(length))
			if !ok {
				return nil, false
			}
			if offset != 0 {
				// only a frame starting the CRYPTO stream at offset 0 can
				// contain the start of a ClientHello; anything else is
				// either a later fragment or padding noise.
				continue
			}
			return data.Bytes(), true
		default:
			return nil, false
		}
	}
	return nil, false
}

// readVarint reads a QUIC variable-length integer (RFC 9000 section 16):
// the two high bits of the first byte select a 1/2/4/8-byte encoding.
func readVarint(d *datum.Datum) (uint64, bool) {
	first, ok := d.ReadUintBE(1)
	if !ok {
		return 0, false
	}
	length := 1 << (first >> 6)
	v := first & 0x3f
	for i := 1; i < length; i++ {
		b, ok := d.ReadUintBE(1)
		if !ok {
			return 0, false
		}
		v = v<<8 | b
	}
	return v, true
}
