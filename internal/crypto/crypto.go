// Package crypto contains the snapshot digest and the passphrase-based sealing
// of snapshot payloads at rest.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/clinic-keeper/internal/errs"
)

// Params
const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// magic prefixes every sealed payload: "CKS" + format version.
var magic = []byte{'C', 'K', 'S', 1}

var hkdfInfo = []byte("clinic-keeper snapshot")

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Digest returns the BLAKE2b-256 sum of b.
func Digest(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// VerifyDigest reports whether digest matches b. An empty digest always matches.
func VerifyDigest(b, digest []byte) bool {
	if len(digest) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(Digest(b), digest) == 1
}

// DeriveKEK derives a key-encryption key from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// deriveSealKey expands the KEK into the payload key via HKDF-SHA256.
func deriveSealKey(kek []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, kek, nil, hkdfInfo)
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// IsSealed reports whether b carries the sealed payload prefix.
func IsSealed(b []byte) bool { return bytes.HasPrefix(b, magic) }

// Sealer encrypts payloads with XChaCha20-Poly1305 under a passphrase-derived
// key. The layout is magic || salt || nonce || ciphertext. A Sealer is safe for
// concurrent use.
type Sealer struct {
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewSealer derives a fresh key for passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	s := &Sealer{passphrase: []byte(passphrase)}
	if _, err := s.keyFor(salt); err != nil {
		return nil, err
	}
	return s, nil
}

// keyFor returns the key for salt, deriving it unless it is the cached one.
func (s *Sealer) keyFor(salt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil && bytes.Equal(s.salt, salt) {
		return s.key, nil
	}
	key, err := deriveSealKey(DeriveKEK(s.passphrase, salt))
	if err != nil {
		return nil, err
	}
	s.salt = bytes.Clone(salt)
	s.key = key
	return key, nil
}

func (s *Sealer) current() (salt, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salt, s.key
}

// Seal encrypts plaintext bound to aad with a random nonce.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	salt, key := s.current()
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open decrypts a payload produced by Seal with the same passphrase and aad.
// Failures wrap errs.ErrMalformedSnapshot.
func (s *Sealer) Open(blob, aad []byte) ([]byte, error) {
	if !IsSealed(blob) {
		return nil, fmt.Errorf("%w: payload is not sealed", errs.ErrMalformedSnapshot)
	}
	rest := blob[len(magic):]
	if len(rest) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: sealed payload too short", errs.ErrMalformedSnapshot)
	}
	salt := rest[:SaltLen]
	nonce := rest[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := rest[SaltLen+chacha20poly1305.NonceSizeX:]

	key, err := s.keyFor(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: open sealed payload: %w", errs.ErrMalformedSnapshot, err)
	}
	return pt, nil
}
