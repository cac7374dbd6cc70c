// Package crypto provides the symmetric primitives used to protect agevault
// key storage.
//
// Keys are derived from passphrases with PBKDF2-HMAC-SHA256 and data is
// sealed with AES-256-GCM. Every call to Encrypt draws a fresh random nonce;
// nonces are never derived from content or counters.
//
// # Example Usage
//
//	salt, err := crypto.GenerateSalt()
//	key := crypto.DeriveKey([]byte("passphrase"), salt)
//	defer crypto.SecureWipe(key)
//
//	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
//	plaintext, err := crypto.Decrypt(key, ciphertext, nonce)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the PBKDF2-HMAC-SHA256 iteration count.
	PBKDF2Iterations = 100_000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes (128 bits).
	SaltLength = 16

	// TagLength is the length of the GCM authentication tag.
	TagLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// DeriveKey derives a 256-bit key from a passphrase using PBKDF2-HMAC-SHA256
// with PBKDF2Iterations rounds. The cost is deliberate: callers on latency
// sensitive paths should run it off the UI goroutine.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeyLength, sha256.New)
}

// GenerateSalt returns SaltLength bytes from crypto/rand.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	defer SecureWipe(b)
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A new 12-byte nonce is drawn from crypto/rand on every call and returned
// alongside the ciphertext. The authentication tag is appended to the
// ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
//
// Any authentication failure returns ErrDecryptionFailed; the cause (wrong
// key, corrupted bytes or tampering) is deliberately not distinguished.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
