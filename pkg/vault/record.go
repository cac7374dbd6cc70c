package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyRecord is a single stored key. Records created by key generation carry
// a private key; recipient-only entries carry just the public key.
type KeyRecord struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PublicKey  string  `json:"publicKey"`
	PrivateKey *string `json:"privateKey,omitempty"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  uint64  `json:"createdAt"` // unix seconds
}

// NewKeyRecord creates a record with a fresh random id and the current time.
func NewKeyRecord(name, publicKey string, privateKey, comment *string) (KeyRecord, error) {
	rec := KeyRecord{
		ID:         uuid.New().String(),
		Name:       strings.TrimSpace(name),
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: trimmedOrNil(privateKey),
		Comment:    trimmedOrNil(comment),
		CreatedAt:  uint64(time.Now().Unix()),
	}
	if err := rec.Validate(); err != nil {
		return KeyRecord{}, err
	}
	return rec, nil
}

// Validate checks the record invariants that the vault itself enforces.
// Whether the private key matches the public key is left to the engine.
func (r KeyRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.PublicKey) == "" {
		return fmt.Errorf("%w: public key is empty (id %s)", ErrInvalidRecord, r.ID)
	}
	if r.PrivateKey != nil && strings.TrimSpace(*r.PrivateKey) == "" {
		return fmt.Errorf("%w: private key is present but empty (id %s)", ErrInvalidRecord, r.ID)
	}
	return nil
}

// HasIdentity reports whether the record can be used to decrypt.
func (r KeyRecord) HasIdentity() bool {
	return r.PrivateKey != nil && *r.PrivateKey != ""
}

// Recipient returns the public key for use as an encryption recipient.
func (r KeyRecord) Recipient() string {
	return r.PublicKey
}

// Identity returns the private key for use as a decryption identity.
func (r KeyRecord) Identity() (string, error) {
	if !r.HasIdentity() {
		return "", fmt.Errorf("%w: %s", ErrIdentityMissing, r.label())
	}
	return *r.PrivateKey, nil
}

// Created returns CreatedAt as a time.Time.
func (r KeyRecord) Created() time.Time {
	return time.Unix(int64(r.CreatedAt), 0)
}

// PublicOnly returns a copy of the record without its private key.
func (r KeyRecord) PublicOnly() KeyRecord {
	r.PrivateKey = nil
	return r
}

func (r KeyRecord) label() string {
	if r.Name != "" {
		return fmt.Sprintf("%q (%s)", r.Name, r.ID)
	}
	return r.ID
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ValidateRecords validates every record and checks id uniqueness.
func ValidateRecords(records []KeyRecord) error {
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// FindByID returns the record with the given id.
func FindByID(records []KeyRecord, id string) (KeyRecord, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return KeyRecord{}, false
}

// Lookup resolves ref as an id first, then as a unique name.
func Lookup(records []KeyRecord, ref string) (KeyRecord, error) {
	if r, ok := FindByID(records, ref); ok {
		return r, nil
	}

	var found []KeyRecord
	for _, r := range records {
		if r.Name == ref {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return KeyRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return KeyRecord{}, fmt.Errorf("%w: %q matches %d records, use the id", ErrAmbiguousName, ref, len(found))
	}
}

// Delete returns records without the entry whose id matches. The input
// slice is not modified.
func Delete(records []KeyRecord, id string) ([]KeyRecord, bool) {
	out := make([]KeyRecord, 0, len(records))
	removed := false
	for _, r := range records {
		if r.ID == id {
			removed = true
			continue
		}
		out = append(out, r)
	}
	return out, removed
}

// Names returns the record names in order.
func Names(records []KeyRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

// IDs returns the record ids in order.
func IDs(records []KeyRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
