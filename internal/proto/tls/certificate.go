package tls

import (
	"github.com/gravwell/netfpd/internal/datum"
	"github.com/gravwell/netfpd/internal/proto/asn1"
)

// CertificateMessage is the handshake-level Certificate message: a list of
// DER-encoded X.509 certificates, leaf first.
type CertificateMessage struct {
	Certificates [][]byte
}

// ParseCertificateMessage parses a TLS 1.2-style Certificate handshake
// body: a 3-byte total-length prefix followed by a sequence of (3-byte
// length, DER bytes) entries. (TLS 1.3's per-certificate extensions block
// is skipped if present; it sits after the DER bytes of each entry and is
// only read enough to advance past it correctly when TLS13 is set.)
func ParseCertificateMessage(body []byte, tls13 bool) (CertificateMessage, bool) {
	d := datum.New(body)
	totalLenV, ok := d.ReadUintBE(3)
	if !ok {
		return CertificateMessage{}, false
	}
	listBytes, ok := d.Split(int(totalLenV))
	if !ok {
		return CertificateMessage{}, false
	}

	var msg CertificateMessage
	list := listBytes
	for list.Remaining() >= 3 {
		certLenV, ok := list.ReadUintBE(3)
		if !ok {
			break
		}
		cert, ok := list.Split(int(certLenV))
		if !ok {
			break
		}
		msg.Certificates = append(msg.Certificates, cert.Bytes())

		if tls13 {
			if list.Remaining() < 2 {
				break
			}
			extLenV, ok := list.ReadUintBE(2)
			if !ok {
				break
			}
			if _, ok := list.Split(int(extLenV)); !ok {
				break
			}
		}
	}
	return msg, true
}

// Certificate is the subset of X.509 fields the engine reports: subject
// and issuer common names, validity window, and the signature algorithm
// OID, each extracted by walking the DER TLV structure directly rather
// than doing a full ASN.1/X.509 decode.
type Certificate struct {
	SerialNumber       []byte
	SignatureAlgorithm string
	Issuer             string
	NotBefore          string
	NotAfter           string
	Subject            string
}

// oids recognized for the subject/issuer common-name attribute, and a
// couple of common signature algorithms -- enough to populate the fields
// spec.md's certificate record names without a full X.509 name decoder.
const oidCommonName = "2.5.4.3"

// ParseCertificate walks the DER bytes of a single certificate (as
// produced by ParseCertificateMessage) and extracts the fields above. It
// does not validate the certificate in any cryptographic sense.
func ParseCertificate(der []byte) (Certificate, bool) {
	d := datum.New(der)
	top, ok := asn1.ReadTLV(&d)
	if !ok || top.Tag != asn1.TagSequence {
		return Certificate{}, false
	}
	tbs := datum.New(top.Value)
	tbsSeq, ok := asn1.ReadTLV(&tbs)
	if !ok || tbsSeq.Tag != asn1.TagSequence {
		return Certificate{}, false
	}

	body := datum.New(tbsSeq.Value)
	var cert Certificate

	// optional [0] EXPLICIT version
	peeked, ok := asn1.ReadTLV(&body)
	if !ok {
		return Certificate{}, false
	}
	if peeked.Class == 2 && peeked.RawTag&0x1F == 0 {
		peeked, ok = asn1.ReadTLV(&body)
		if !ok {
			return Certificate{}, false
		}
	}
	// peeked is now the serialNumber INTEGER
	if peeked.Tag == asn1.TagInteger {
		cert.SerialNumber = peeked.Value
	}

	// signature AlgorithmIdentifier SEQUENCE
	sigAlg, ok := asn1.ReadTLV(&body)
	if !ok || sigAlg.Tag != asn1.TagSequence {
		return cert, true
	}
	algBody := datum.New(sigAlg.Value)
	if oidTLV, ok := asn1.ReadTLV(&algBody); ok && oidTLV.Tag == asn1.TagOID {
		if s, ok := asn1.DecodeOID(oidTLV.Value); ok {
			cert.SignatureAlgorithm = s
		}
	}

	// issuer Name (SEQUENCE of RDNSequence)
	issuerTLV, ok := asn1.ReadTLV(&body)
	if !ok {
		return cert, true
	}
	cert.Issuer = extractCommonName(issuerTLV)

	// validity SEQUENCE { notBefore, notAfter }
	validTLV, ok := asn1.ReadTLV(&body)
	if ok && validTLV.Tag == asn1.TagSequence {
		vBody := datum.New(validTLV.Value)
		if nb, ok := asn1.ReadTLV(&vBody); ok {
			cert.NotBefore = timeString(nb)
		}
		if na, ok := asn1.ReadTLV(&vBody); ok {
			cert.NotAfter = timeString(na)
		}
	}

	// subject Name
	subjectTLV, ok := asn1.ReadTLV(&body)
	if ok {
		cert.Subject = extractCommonName(subjectTLV)
	}

	return cert, true
}

func timeString(t asn1.TLV) string {
	if t.Tag == asn1.TagUTCTime {
		if s, ok := asn1.ExpandUTCTime(string(t.Value)); ok {
			return s
		}
	}
	return string(t.Value)
}

// extractCommonName walks a Name SEQUENCE (a set of RelativeDistinguished
// Name SETs, each a SEQUENCE of AttributeTypeAndValue) looking for the
// commonName (2.5.4.3) attribute.
func extractCommonName(name asn1.TLV) string {
	if name.Tag != asn1.TagSequence {
		return ""
	}
	rdns := datum.New(name.Value)
	for rdns.Remaining() > 0 {
		rdnSet, ok := asn1.ReadTLV(&rdns)
		if !ok || rdnSet.Tag != asn1.TagSet {
			break
		}
		attrs := datum.New(rdnSet.Value)
		for attrs.Remaining() > 0 {
			attrSeq, ok := asn1.ReadTLV(&attrs)
			if !ok || attrSeq.Tag != asn1.TagSequence {
				break
			}
			av := datum.New(attrSeq.Value)
			oidTLV, ok := asn1.ReadTLV(&av)
			if !ok || oidTLV.Tag != asn1.TagOID {
				continue
			}
			oid, ok := asn1.DecodeOID(oidTLV.Value)
			if !ok || oid != oidCommonName {
				continue
			}
			valTLV, ok := asn1.ReadTLV(&av)
			if !ok {
				continue
			}
			return string(valTLV.Value)
		}
	}
	return ""
}
