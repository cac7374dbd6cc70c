package vault

import "errors"

// Not-found errors.
var (
	// ErrVaultNotFound indicates no key storage file exists at the path.
	ErrVaultNotFound = errors.New("vault: key storage not found")

	// ErrRecordNotFound indicates no record matches the given id or name.
	ErrRecordNotFound = errors.New("vault: key record not found")
)

// Cryptographic and framing errors.
var (
	// ErrUnlockFailed is returned for every authentication failure. Wrong
	// passphrase, corruption and tampering are intentionally reported the
	// same way.
	ErrUnlockFailed = errors.New("vault: unable to unlock key storage")

	// ErrUnsupportedVersion indicates a file written by an unknown format version.
	ErrUnsupportedVersion = errors.New("vault: unsupported key storage format version")

	// ErrMalformed indicates the file is too short to hold a header and tag.
	ErrMalformed = errors.New("vault: key storage file is malformed")
)

// Validation errors.
var (
	ErrEmptyPassphrase = errors.New("vault: passphrase cannot be empty")
	ErrInvalidRecord   = errors.New("vault: invalid key record")
	ErrDuplicateID     = errors.New("vault: duplicate key record id")
	ErrAmbiguousName   = errors.New("vault: more than one key record has this name")

	// ErrIdentityMissing is returned when a public-only record is used where
	// a private key is required.
	ErrIdentityMissing = errors.New("vault: key record has no private key")
)

// I/O errors.
var (
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
)
