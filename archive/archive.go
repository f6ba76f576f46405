// Package archive implements the resource archive reader (spec section 6):
// a streamable container exposing logical entries {name, bytes}, optionally
// gzip-compressed and AES-GCM-encrypted. This is the out-of-scope
// collaborator spec.md names but does not define internals for; we give it
// a concrete implementation using klauspost/compress/gzip (a teacher
// dependency) plus stdlib archive/tar and crypto/aes+crypto/cipher for the
// optional authenticated decryption layer, since the teacher carries no
// ecosystem AEAD dependency beyond what the standard library already
// provides.
package archive

import (
	"archive/tar"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Entry is one logical file inside the archive.
type Entry struct {
	Name string
	Data []byte
}

// Open reads an entire resource archive from r and returns its logical
// entries. The archive is a tar stream, optionally gzip-compressed and
// optionally AES-GCM-encrypted (outermost layer first: decrypt, then
// un-gzip, then un-tar). encKey is nil for a plaintext archive.
func Open(r io.Reader, encKey []byte) ([]Entry, error) {
	var err error
	if len(encKey) > 0 {
		r, err = decryptReader(r, encKey)
		if err != nil {
			return nil, fmt.Errorf("archive: decrypt: %w", err)
		}
	}

	gz, err := maybeGunzip(r)
	if err != nil {
		return nil, fmt.Errorf("archive: gunzip: %w", err)
	}

	tr := tar.NewReader(gz)
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("archive: reading %s: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Data: data})
	}
	return entries, nil
}

// maybeGunzip sniffs the gzip magic and transparently wraps r in a gzip
// reader if present; resource archives may ship the tar stream either
// compressed or not.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := &peekReader{r: r}
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

// decryptReader reads the whole ciphertext (archives are bounded resource
// bundles, not streaming payloads) and returns an AES-GCM-decrypted
// plaintext reader. The wire format is nonce || ciphertext || tag, with
// nonce length cipher.NewGCM's standard 12 bytes.
func decryptReader(r io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("archive: ciphertext shorter than nonce")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, err
	}
	return bytesReader(plaintext), nil
}

func bytesReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}

// peekReader lets maybeGunzip look at the first bytes without consuming
// them from the stream seen by the rest of the pipeline.
type peekReader struct {
	r      io.Reader
	peeked []byte
	used   int
}

func (p *peekReader) Peek(n int) ([]byte, error) {
	if len(p.peeked) >= n {
		return p.peeked[:n], nil
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(p.r, buf)
	p.peeked = buf[:read]
	if err != nil && err != io.ErrUnexpectedEOF {
		return p.peeked, err
	}
	return p.peeked, nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if p.used < len(p.peeked) {
		n := copy(b, p.peeked[p.used:])
		p.used += n
		return n, nil
	}
	return p.r.Read(b)
}

// Find returns the entry with the given name, or ok=false.
func Find(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
