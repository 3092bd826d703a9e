// Package vault seals and opens the wallet credential at rest.
//
// An encrypted blob is base64(salt ‖ iv ‖ tag ‖ ciphertext). The key is derived
// with PBKDF2-SHA256 over the passphrase and the blob's salt; the cipher is
// AES-256-GCM so any tampering with the blob fails authentication.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

const (
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000

	saltSize = 16
	ivSize   = 16
	tagSize  = 16
	keySize  = 32

	headerSize = saltSize + ivSize + tagSize
)

// Encrypt seals secret under passphrase with a fresh random salt and iv.
func Encrypt(secret []byte, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	key := deriveKey([]byte(passphrase), salt)
	defer zero(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, secret, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, headerSize+len(ct))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens an encrypted blob. Any failure, including a wrong passphrase, is ErrDecryptionFailed.
func Decrypt(encryptedBlob, passphrase string) (*Credential, error) {
	b, err := parseBlob(encryptedBlob)
	if err != nil {
		return nil, err
	}

	key := deriveKey([]byte(passphrase), b.salt)
	defer zero(key)

	return b.open(key)
}

// Credential is decrypted secret material. Callers must Zero it after use.
type Credential struct {
	secret []byte
}

// NewCredential wraps secret; the Credential takes ownership of the slice.
func NewCredential(secret []byte) *Credential {
	return &Credential{secret: secret}
}

// Bytes returns the secret. The slice is invalid after Zero.
func (c *Credential) Bytes() []byte {
	return c.secret
}

// String never reveals the secret so a Credential cannot leak through fmt or slog.
func (*Credential) String() string {
	return "[REDACTED]"
}

// Zero overwrites the secret in memory.
func (c *Credential) Zero() {
	if c == nil {
		return
	}
	zero(c.secret)
	c.secret = nil
}

// Vault derives the key once and hands out a fresh Credential per transfer attempt.
// Safe for concurrent use.
type Vault struct {
	blob       string
	passphrase []byte

	once   sync.Once
	parsed *blob
	key    []byte
	err    error
}

// New returns a Vault over an encrypted blob. The passphrase is discarded after the first Unlock.
func New(encryptedBlob, passphrase string) *Vault {
	return &Vault{
		blob:       encryptedBlob,
		passphrase: []byte(passphrase),
	}
}

// Unlock derives the key and proves it opens the blob. Concurrent callers share one derivation.
func (v *Vault) Unlock() error {
	v.once.Do(func() {
		defer func() {
			zero(v.passphrase)
			v.passphrase = nil
		}()

		b, err := parseBlob(v.blob)
		if err != nil {
			v.err = err
			return
		}

		key := deriveKey(v.passphrase, b.salt)
		cred, err := b.open(key)
		if err != nil {
			zero(key)
			v.err = err
			return
		}
		cred.Zero()

		v.parsed = b
		v.key = key
	})

	return v.err
}

// Credential returns freshly decrypted material for one transfer attempt.
func (v *Vault) Credential() (*Credential, error) {
	if err := v.Unlock(); err != nil {
		return nil, err
	}

	return v.parsed.open(v.key)
}

type blob struct {
	salt []byte
	iv   []byte
	tag  []byte
	ct   []byte
}

func parseBlob(encoded string) (*blob, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: blob is not base64", model.ErrDecryptionFailed)
	}

	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: blob too short", model.ErrDecryptionFailed)
	}

	return &blob{
		salt: raw[:saltSize],
		iv:   raw[saltSize : saltSize+ivSize],
		tag:  raw[saltSize+ivSize : headerSize],
		ct:   raw[headerSize:],
	}, nil
}

func (b *blob) open(key []byte) (*Credential, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(b.ct)+tagSize)
	sealed = append(sealed, b.ct...)
	sealed = append(sealed, b.tag...)

	plain, err := aead.Open(nil, b.iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", model.ErrDecryptionFailed)
	}

	return &Credential{secret: plain}, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, Iterations, keySize, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(model.ErrDecryptionFailed, err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, errors.Join(model.ErrDecryptionFailed, err)
	}

	return aead, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
