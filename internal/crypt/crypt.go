// Package crypt seals stored blobs with XChaCha20-Poly1305.
//
// Every blob carries the id of the key it was sealed with, so a Cipher built
// from a key ring can still open blobs written before the primary key was
// rotated. Layout:
//
//	[version: 1 byte (0x01)] [key id: 8 bytes] [nonce: 24 bytes] [ciphertext+tag]
//
// The version byte and key id are authenticated as additional data.
package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinKeyMaterial is the shortest accepted key material in bytes.
	MinKeyMaterial = 32

	BlobVersion byte = 0x01
	KeyIDSize        = 8

	headerSize = 1 + KeyIDSize + chacha20poly1305.NonceSizeX

	// Overhead is the number of bytes a sealed blob adds to its plaintext.
	Overhead = headerSize + chacha20poly1305.Overhead
)

var (
	ErrTamperedOrWrongKey = errors.New("ciphertext tampered or sealed with an unknown key")
	ErrMalformed          = errors.New("malformed ciphertext")
	ErrKeyTooShort        = fmt.Errorf("key material must be at least %d bytes", MinKeyMaterial)
)

var (
	hkdfInfoBlob = []byte("sealbox.blob.v1")
	keyIDDomain  = []byte("sealbox.keyid.v1")
)

type KeyID [KeyIDSize]byte

func (id KeyID) String() string {
	return fmt.Sprintf("%x", id[:])
}

type key struct {
	id   KeyID
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func newKey(material []byte) (*key, error) {
	if len(material) < MinKeyMaterial {
		return nil, ErrKeyTooShort
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, hkdfInfoBlob), derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	h := blake3.New()
	_, _ = h.Write(keyIDDomain)
	_, _ = h.Write(derived)
	var id KeyID
	copy(id[:], h.Sum(nil))

	return &key{id: id, aead: aead}, nil
}

// Cipher encrypts with a primary key and decrypts with the primary key or any
// of the previous keys it was built with. Safe for concurrent use.
type Cipher struct {
	primary *key
	ring    map[KeyID]*key
}

// New builds a Cipher. primary seals new blobs; previous keys only open.
func New(primary []byte, previous ...[]byte) (*Cipher, error) {
	p, err := newKey(primary)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}

	c := &Cipher{
		primary: p,
		ring:    map[KeyID]*key{p.id: p},
	}

	for i, material := range previous {
		k, err := newKey(material)
		if err != nil {
			return nil, fmt.Errorf("previous key %d: %w", i, err)
		}
		if _, ok := c.ring[k.id]; !ok {
			c.ring[k.id] = k
		}
	}

	return c, nil
}

// PrimaryKeyID identifies the key new blobs are sealed with.
func (c *Cipher) PrimaryKeyID() KeyID {
	return c.primary.id
}

func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, headerSize, headerSize+len(plaintext)+chacha20poly1305.Overhead)
	out[0] = BlobVersion
	copy(out[1:1+KeyIDSize], c.primary.id[:])

	nonce := out[1+KeyIDSize : headerSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.primary.aead.Seal(out, nonce, plaintext, out[:1+KeyIDSize]), nil
}

func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes, minimum is %d", ErrMalformed, len(blob), Overhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, blob[0])
	}

	var id KeyID
	copy(id[:], blob[1:1+KeyIDSize])
	k, ok := c.ring[id]
	if !ok {
		return nil, fmt.Errorf("%w: key %s not in ring", ErrTamperedOrWrongKey, id)
	}

	nonce := blob[1+KeyIDSize : headerSize]
	plaintext, err := k.aead.Open(nil, nonce, blob[headerSize:], blob[:1+KeyIDSize])
	if err != nil {
		return nil, ErrTamperedOrWrongKey
	}

	return plaintext, nil
}

// SealedBy reports the key id recorded in blob's header.
func SealedBy(blob []byte) (KeyID, error) {
	var id KeyID
	if len(blob) < headerSize || blob[0] != BlobVersion {
		return id, ErrMalformed
	}
	copy(id[:], blob[1:1+KeyIDSize])
	return id, nil
}

// IsPrimary reports whether blob was sealed with the primary key.
func (c *Cipher) IsPrimary(blob []byte) bool {
	id, err := SealedBy(blob)
	return err == nil && id == c.primary.id
}
