package vault

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/forest6511/agevault/pkg/crypto"
)

// FormatVersion is the version written into every key storage file.
const FormatVersion uint32 = 1

const (
	versionLength = 4
	headerLength  = versionLength + crypto.SaltLength + crypto.NonceLength
	minFileLength = headerLength + crypto.TagLength
)

// File is the on-disk form of a sealed record set:
//
//	[version u32 BE][salt 16][nonce 12][ciphertext || tag]
type File struct {
	Version    uint32
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// payload is the plaintext sealed inside a File.
type payload struct {
	Keys    []KeyRecord `json:"keys"`
	Version uint32      `json:"version"`
}

// MarshalBinary encodes the file in its on-disk layout.
func (f *File) MarshalBinary() ([]byte, error) {
	if len(f.Salt) != crypto.SaltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrMalformed, crypto.SaltLength)
	}
	if len(f.Nonce) != crypto.NonceLength {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrMalformed, crypto.NonceLength)
	}

	out := make([]byte, headerLength, headerLength+len(f.Ciphertext))
	binary.BigEndian.PutUint32(out[:versionLength], f.Version)
	copy(out[versionLength:], f.Salt)
	copy(out[versionLength+crypto.SaltLength:], f.Nonce)
	return append(out, f.Ciphertext...), nil
}

// UnmarshalFile parses the on-disk layout. The version is checked here so
// files from unknown versions are rejected before any key derivation.
func UnmarshalFile(data []byte) (*File, error) {
	if len(data) < versionLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	version := binary.BigEndian.Uint32(data[:versionLength])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if len(data) < minFileLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}

	f := &File{
		Version:    version,
		Salt:       make([]byte, crypto.SaltLength),
		Nonce:      make([]byte, crypto.NonceLength),
		Ciphertext: make([]byte, len(data)-headerLength),
	}
	copy(f.Salt, data[versionLength:])
	copy(f.Nonce, data[versionLength+crypto.SaltLength:])
	copy(f.Ciphertext, data[headerLength:])
	return f, nil
}

// Seal encrypts records under a key derived from passphrase with a fresh
// salt and nonce.
func Seal(passphrase []byte, records []KeyRecord) (*File, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if err := ValidateRecords(records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []KeyRecord{}
	}

	plaintext, err := json.Marshal(payload{Keys: records, Version: FormatVersion})
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode records: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(passphrase, salt)
	defer crypto.SecureWipe(key)

	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}

	return &File{
		Version:    FormatVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open decrypts a File. Every authentication or decoding failure is
// reported as ErrUnlockFailed. Decrypted records that break the record
// invariants are reported as ErrInvalidRecord or ErrDuplicateID.
func Open(passphrase []byte, f *File) ([]KeyRecord, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	if len(f.Salt) != crypto.SaltLength || len(f.Nonce) != crypto.NonceLength {
		return nil, ErrMalformed
	}

	key := crypto.DeriveKey(passphrase, f.Salt)
	defer crypto.SecureWipe(key)

	plaintext, err := crypto.Decrypt(key, f.Ciphertext, f.Nonce)
	if err != nil {
		return nil, ErrUnlockFailed
	}
	defer crypto.SecureWipe(plaintext)

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, ErrUnlockFailed
	}
	if err := ValidateRecords(p.Keys); err != nil {
		return nil, fmt.Errorf("vault: stored records are invalid: %w", err)
	}
	if p.Keys == nil {
		p.Keys = []KeyRecord{}
	}
	return p.Keys, nil
}

// SealBytes seals records and returns the encoded file.
func SealBytes(passphrase []byte, records []KeyRecord) ([]byte, error) {
	f, err := Seal(passphrase, records)
	if err != nil {
		return nil, err
	}
	return f.MarshalBinary()
}

// OpenBytes parses and opens an encoded file.
func OpenBytes(passphrase []byte, data []byte) ([]KeyRecord, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	f, err := UnmarshalFile(data)
	if err != nil {
		return nil, err
	}
	return Open(passphrase, f)
}
