package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

const (
	keySize        = 32
	payloadDelim   = ":"
	machineKeyInfo = "mcp-oauth token store v1"
)

// Cipher encrypts token payloads at rest. Implementations backed by an OS
// keychain or HSM can replace the machine-derived default.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(payload string) ([]byte, error)
}

// AESCipher is AES-256-GCM with a fresh random nonce per write. Payloads are
// "<nonce hex>:<ciphertext hex>".
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher creates a cipher from a 32 byte key
func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

// NewMachineCipher creates an AESCipher keyed by MachineKey
func NewMachineCipher() (*AESCipher, error) {
	key, err := MachineKey()
	if err != nil {
		return nil, err
	}
	return NewAESCipher(key)
}

// MachineKey derives the default key from the home directory, OS and CPU
// architecture. Records encrypted on one host do not decrypt on another.
func MachineKey() ([]byte, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return DeriveKey(home, runtime.GOOS, runtime.GOARCH)
}

// DeriveKey hashes parts into a 32 byte key with HKDF-SHA256
func DeriveKey(parts ...string) ([]byte, error) {
	secret := []byte(strings.Join(parts, "\x00"))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(machineKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a new random nonce
func (c *AESCipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", oauth.NewError(oauth.CodeEncryptionFailed, "", "generating nonce").WithCause(err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + payloadDelim + hex.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt
func (c *AESCipher) Decrypt(payload string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(strings.TrimSpace(payload), payloadDelim)
	if !ok {
		return nil, oauth.NewError(oauth.CodeDecryptionFailed, "", "malformed encrypted payload")
	}
	nonce, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, oauth.NewError(oauth.CodeDecryptionFailed, "", "decoding nonce").WithCause(err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, oauth.NewError(oauth.CodeDecryptionFailed, "", "invalid nonce length %d", len(nonce))
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, oauth.NewError(oauth.CodeDecryptionFailed, "", "decoding ciphertext").WithCause(err)
	}
	plaintext, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, oauth.NewError(oauth.CodeDecryptionFailed, "", "decrypting token payload (key mismatch or corrupted data)").
			WithCause(err)
	}
	return plaintext, nil
}
