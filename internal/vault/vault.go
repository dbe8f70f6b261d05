// Package vault encrypts payment credentials with a key that lives only in
// process memory. Losing the process loses every stored credential.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDecryptionFailed is returned for any blob that fails authentication.
	ErrDecryptionFailed = errors.New("credential decryption failed")
	// ErrKeyUnavailable is returned when the vault key was never initialised.
	ErrKeyUnavailable = errors.New("vault key unavailable")
)

// Cipher names an AEAD construction.
type Cipher string

const (
	CipherAESGCM            Cipher = "aes-gcm"
	CipherXChaCha20Poly1305 Cipher = "xchacha20poly1305"
)

const keySize = 32

// cipher ids written as the first blob byte and bound as associated data
var cipherIDs = map[Cipher]byte{
	CipherAESGCM:            1,
	CipherXChaCha20Poly1305: 2,
}

// ParseCipher validates a configured cipher name.
func ParseCipher(s string) (Cipher, error) {
	if _, ok := cipherIDs[Cipher(s)]; !ok {
		return "", fmt.Errorf("unknown vault cipher %q", s)
	}
	return Cipher(s), nil
}

// Option configures a Vault.
type Option func(*Vault)

// WithCipher selects the AEAD construction.
func WithCipher(c Cipher) Option {
	return func(v *Vault) { v.cipher = c }
}

// WithRandom replaces crypto/rand as the source for the key and nonces.
func WithRandom(r io.Reader) Option {
	return func(v *Vault) { v.random = r }
}

// Vault performs authenticated encryption of credential strings. The zero
// value has no key and fails every call with ErrKeyUnavailable.
type Vault struct {
	cipher Cipher
	random io.Reader

	once    sync.Once
	aead    cipher.AEAD
	id      byte
	initErr error
}

// New constructs a Vault and generates its key.
func New(opts ...Option) (*Vault, error) {
	v := &Vault{cipher: CipherAESGCM, random: rand.Reader}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.init(); err != nil {
		return nil, err
	}
	return v, nil
}

// init generates the key at most once.
func (v *Vault) init() error {
	v.once.Do(func() {
		id, ok := cipherIDs[v.cipher]
		if !ok {
			v.initErr = fmt.Errorf("%w: unknown cipher %q", ErrKeyUnavailable, v.cipher)
			return
		}
		key := make([]byte, keySize)
		if _, err := io.ReadFull(v.random, key); err != nil {
			v.initErr = fmt.Errorf("%w: generate key: %v", ErrKeyUnavailable, err)
			return
		}
		aead, err := newAEAD(v.cipher, key)
		wipe(key)
		if err != nil {
			v.initErr = fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
			return
		}
		v.aead, v.id = aead, id
	})
	return v.initErr
}

func (v *Vault) ready() error {
	if v == nil || v.random == nil {
		return ErrKeyUnavailable
	}
	if err := v.init(); err != nil {
		return err
	}
	return nil
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	switch c {
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// Encrypt seals plaintext into a blob of the form id || nonce || sealed.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	header := []byte{v.id}
	blob := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.aead.Overhead())
	blob = append(blob, header...)
	blob = append(blob, nonce...)
	return v.aead.Seal(blob, nonce, []byte(plaintext), header), nil
}

// Decrypt opens a blob produced by Encrypt. Any modification of the blob
// yields ErrDecryptionFailed and no plaintext.
func (v *Vault) Decrypt(blob []byte) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	nonceSize := v.aead.NonceSize()
	if len(blob) < 1+nonceSize+v.aead.Overhead() || blob[0] != v.id {
		return "", ErrDecryptionFailed
	}
	plaintext, err := v.aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], blob[:1])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
