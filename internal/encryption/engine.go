// Package encryption implements per-document content encryption and the
// wrapping of per-document keys under a process-wide master secret.
//
// Stored blobs use the layout base64(IV || AES-256-CBC ciphertext) with
// PKCS#7 padding. Wrapped keys use AES-256-GCM under a key-encryption key
// derived from the master secret with HKDF-SHA256.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	tinksubtle "github.com/google/tink/go/aead/subtle"
	"golang.org/x/crypto/hkdf"
)

const (
	// Algorithm identifies the content encryption scheme persisted with each document.
	Algorithm = "AES-256-CBC"

	// KeySize is the size in bytes of both document keys and the derived KEK.
	KeySize = 32

	// MinMasterKeySize is the minimum accepted master secret length in bytes.
	MinMasterKeySize = 32

	kekInfo       = "docvault-key-wrap-v1"
	wrapAssocData = "docvault-document-key"
)

var (
	// ErrEncryption is returned when the underlying cipher cannot encrypt.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption is returned for malformed, truncated or tampered input.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidMasterKey is returned by NewEngine for unusable master secrets.
	ErrInvalidMasterKey = errors.New("invalid master key")
)

// Engine generates document keys, encrypts and decrypts payloads, wraps keys
// and computes integrity hashes. It is safe for concurrent use; the KEK is
// read-only after construction.
type Engine struct {
	kek    *tinksubtle.AESGCM
	random io.Reader
}

// NewEngine derives the key-encryption key from masterKey and returns a ready engine.
func NewEngine(masterKey []byte) (*Engine, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidMasterKey, MinMasterKeySize, len(masterKey))
	}

	kek := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(kekInfo)), kek); err != nil {
		return nil, fmt.Errorf("derive kek: %w", err)
	}

	aead, err := tinksubtle.NewAESGCM(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}

	return &Engine{kek: aead, random: rand.Reader}, nil
}

// NewEngineFromBase64 decodes a standard base64 master secret and calls NewEngine.
func NewEngineFromBase64(masterKeyB64 string) (*Engine, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrInvalidMasterKey, err)
	}
	return NewEngine(key)
}

// Algorithm returns the content encryption algorithm identifier.
func (e *Engine) Algorithm() string {
	return Algorithm
}

// GenerateKey returns a fresh 256-bit key, base64 encoded.
func (e *Engine) GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(e.random, key); err != nil {
		return "", fmt.Errorf("%w: generate key: %v", ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts plaintext with the base64 key and returns base64(IV || ciphertext).
func (e *Engine) Encrypt(plaintext []byte, key string) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return "", fmt.Errorf("%w: generate iv: %v", ErrEncryption, err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any structural problem with blob yields ErrDecryption.
func (e *Engine) Decrypt(blob string, key string) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrDecryption)
	}
	if len(raw) < 2*aes.BlockSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrDecryption, len(raw))
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrDecryption)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	out, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return out, nil
}

// WrapKey encrypts a base64 document key under the KEK.
func (e *Engine) WrapKey(key string) (string, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: wrap: %v", ErrEncryption, err)
	}
	defer zero(raw)

	wrapped, err := e.kek.Encrypt(raw, []byte(wrapAssocData))
	if err != nil {
		return "", fmt.Errorf("%w: wrap: %v", ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapKey reverses WrapKey.
func (e *Engine) UnwrapKey(wrapped string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("%w: unwrap: invalid base64", ErrDecryption)
	}

	key, err := e.kek.Decrypt(raw, []byte(wrapAssocData))
	if err != nil {
		return "", fmt.Errorf("%w: unwrap: %v", ErrDecryption, err)
	}
	defer zero(key)

	if len(key) != KeySize {
		return "", fmt.Errorf("%w: unwrap: unexpected key size %d", ErrDecryption, len(key))
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether data hashes to expectedHex, in constant time.
func VerifyHash(data []byte, expectedHex string) bool {
	actual := Hash(data)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHex)) == 1
}

// Hash is the method form of the package-level Hash.
func (e *Engine) Hash(data []byte) string { return Hash(data) }

// VerifyHash is the method form of the package-level VerifyHash.
func (e *Engine) VerifyHash(data []byte, expectedHex string) bool { return VerifyHash(data, expectedHex) }

func newBlock(key string) (cipher.Block, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	defer zero(raw)
	return aes.NewCipher(raw)
}

func decodeKey(key string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, errors.New("invalid key encoding")
	}
	if len(raw) != KeySize {
		zero(raw)
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(raw))
	}
	return raw, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	pad := data[len(data)-n:]
	if subtle.ConstantTimeCompare(pad, bytes.Repeat([]byte{byte(n)}, n)) != 1 {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-n], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
