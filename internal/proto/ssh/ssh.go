// Package ssh parses the two first-flight SSH messages the engine
// fingerprints: the plaintext version-exchange banner line ("ssh") and the
// binary SSH_MSG_KEXINIT packet ("ssh_kex"), both reachable via TCP
// reassembly before encryption begins. The SSHM residual-data path is an
// explicit Non-goal and is not implemented here.
package ssh

import (
	"bytes"
	"strings"

	"github.com/gravwell/netfpd/internal/datum"
)

// Banner is the parsed SSH version-exchange line, "SSH-protoversion-
// softwareversion[ comments]".
type Banner struct {
	ProtoVersion string
	SoftwareVersion string
	Comments     string
	Raw          string
}

// ParseBanner parses an SSH identification banner. Per RFC 4253 section
// 4.2 the line is terminated by CR LF (bare LF tolerated), begins with
// "SSH-", and is at most 255 bytes including the terminator.
func ParseBanner(b []byte) (Banner, bool) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return Banner{}, false
	}
	line := b[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte("SSH-")) {
		return Banner{}, false
	}
	s := string(line[len("SSH-"):])
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Banner{}, false
	}
	rest := parts[1]
	software := rest
	comments := ""
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		software = rest[:sp]
		comments = rest[sp+1:]
	}
	return Banner{
		ProtoVersion:    parts[0],
		SoftwareVersion: software,
		Comments:        comments,
		Raw:             string(line),
	}, true
}

// Fingerprint for a banner is simply its software-version token: the
// field that varies meaningfully between SSH implementations/versions.
func (b Banner) Fingerprint() string {
	return b.ProtoVersion + "-" + b.SoftwareVersion
}

// KexInit is the parsed SSH_MSG_KEXINIT payload: the cookie plus the ten
// name-lists that negotiate algorithms, in wire order.
type KexInit struct {
	Cookie                  []byte
	KexAlgorithms           []string
	ServerHostKeyAlgorithms []string
	EncryptionAlgorithmsCS  []string
	EncryptionAlgorithmsSC  []string
	MACAlgorithmsCS         []string
	MACAlgorithmsSC         []string
	CompressionAlgorithmsCS []string
	CompressionAlgorithmsSC []string
	LanguagesCS             []string
	LanguagesSC             []string
}

const msgKexInit = 20

// ParsePacket reads one SSH binary packet (4-byte packet_length, 1-byte
// padding_length, payload, padding -- no MAC, since this only runs before
// encryption is negotiated) and, if its payload is SSH_MSG_KEXINIT,
// parses it. additionalBytesNeeded mirrors the rest of the package's
// incomplete-without-consuming contract.
func ParsePacket(d *datum.Datum) (ki KexInit, additionalBytesNeeded int, ok bool) {
	start := *d
	plen, ok := d.ReadUintBE(4)
	if !ok {
		return KexInit{}, 0, false
	}
	if int(plen) > d.Remaining() {
		needed := int(plen) - d.Remaining()
		*d = start
		return KexInit{}, needed, true
	}
	packet, ok := d.Split(int(plen))
	if !ok {
		return KexInit{}, 0, false
	}

	padLenV, ok := packet.ReadUintBE(1)
	if !ok {
		return KexInit{}, 0, false
	}
	payloadLen := packet.Remaining() - int(padLenV)
	if payloadLen < 0 {
		return KexInit{}, 0, false
	}
	payload, ok := packet.Split(payloadLen)
	if !ok {
		return KexInit{}, 0, false
	}

	msgType, ok := payload.ReadUintBE(1)
	if !ok || msgType != msgKexInit {
		return KexInit{}, 0, false
	}
	cookie := make([]byte, 16)
	if !payload.ReadBytes(16, cookie) {
		return KexInit{}, 0, false
	}

	lists := make([][]string, 10)
	for i := range lists {
		l, ok := readNameList(&payload)
		if !ok {
			return KexInit{}, 0, false
		}
		lists[i] = l
	}

	return KexInit{
		Cookie:                  cookie,
		KexAlgorithms:           lists[0],
		ServerHostKeyAlgorithms: lists[1],
		EncryptionAlgorithmsCS:  lists[2],
		EncryptionAlgorithmsSC:  lists[3],
		MACAlgorithmsCS:         lists[4],
		MACAlgorithmsSC:         lists[5],
		CompressionAlgorithmsCS: lists[6],
		CompressionAlgorithmsSC: lists[7],
		LanguagesCS:             lists[8],
		LanguagesSC:             lists[9],
	}, 0, true
}

func readNameList(d *datum.Datum) ([]string, bool) {
	lenv, ok := d.ReadUintBE(4)
	if !ok {
		return nil, false
	}
	v, ok := d.Split(int(lenv))
	if !ok {
		return nil, false
	}
	s := string(v.Bytes())
	if s == "" {
		return nil, true
	}
	return strings.Split(s, ","), true
}

// Fingerprint renders the deterministic ssh_kex fingerprint: each
// name-list joined by commas, lists separated by semicolons, in wire
// order -- the set of algorithms offered is exactly what varies between
// client implementations.
func (k KexInit) Fingerprint() string {
	lists := [][]string{
		k.KexAlgorithms, k.ServerHostKeyAlgorithms,
		k.EncryptionAlgorithmsCS, k.EncryptionAlgorithmsSC,
		k.MACAlgorithmsCS, k.MACAlgorithmsSC,
		k.CompressionAlgorithmsCS, k.CompressionAlgorithmsSC,
	}
	var b strings.Builder
	for i, l := range lists {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strings.Join(l, ","))
	}
	return b.String()
}
