package exchange

import "errors"

var (
	// ErrPassphraseEmpty indicates no export passphrase was supplied.
	ErrPassphraseEmpty = errors.New("exchange: passphrase cannot be empty")

	// ErrPassphraseTooShort indicates the passphrase is below MinPassphraseLength.
	ErrPassphraseTooShort = errors.New("exchange: passphrase is too short")

	// ErrPassphraseTooLong indicates the passphrase exceeds MaxPassphraseLength.
	ErrPassphraseTooLong = errors.New("exchange: passphrase is too long")

	// ErrExportNotFound indicates the export file does not exist.
	ErrExportNotFound = errors.New("exchange: export file not found")
)
