package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/forest6511/agevault/pkg/vault"
)

const (
	secretKeyPrefix = "AGE-SECRET-KEY-"
	pluginKeyPrefix = "AGE-PLUGIN-"
)

// IdentityParser parses age identity files.
type IdentityParser struct{}

// Source returns SourceIdentity.
func (p *IdentityParser) Source() Source { return SourceIdentity }

// Parse pairs each secret key with the "# public key:" and "# created:"
// comments preceding it. Without a public key comment the key is skipped
// unless opts.DeriveRecipient is set.
func (p *IdentityParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	res := &ImportResult{}
	seen := make(map[string]bool)

	var (
		publicKey string
		created   string
		notes     []string
		inPEM     bool
		pemStart  int
	)
	reset := func() {
		publicKey, created, notes = "", "", nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if inPEM {
			if strings.HasPrefix(line, "-----END") {
				inPEM = false
				res.Skipped = append(res.Skipped, SkippedItem{Line: pemStart, Reason: "SSH private keys are not imported; add the public key as a recipient instead"})
				reset()
			}
			continue
		}

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#"):
			body := strings.TrimSpace(strings.TrimLeft(line, "#"))
			switch {
			case strings.HasPrefix(body, "public key:"):
				publicKey = strings.TrimSpace(strings.TrimPrefix(body, "public key:"))
			case strings.HasPrefix(body, "created:"):
				created = body
			case body != "":
				notes = append(notes, body)
			}

		case strings.HasPrefix(line, secretKeyPrefix):
			rec, reason := p.record(line, publicKey, created, notes, opts)
			reset()
			if reason != "" {
				res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: reason})
				continue
			}
			if seen[rec.PublicKey] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: duplicate identity for %s ignored", lineNo, rec.PublicKey))
				continue
			}
			seen[rec.PublicKey] = true
			res.Records = append(res.Records, rec)

		case strings.HasPrefix(line, pluginKeyPrefix):
			res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: "plugin identities are not supported"})
			reset()

		case strings.HasPrefix(line, "-----BEGIN"):
			inPEM, pemStart = true, lineNo

		default:
			res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: "unrecognized line"})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("importer: failed to read identity file: %w", err)
	}
	if inPEM {
		res.Skipped = append(res.Skipped, SkippedItem{Line: pemStart, Reason: "unterminated PEM block"})
	}

	return finish(res)
}

func (p *IdentityParser) record(secret, publicKey, created string, notes []string, opts ParseOptions) (vault.KeyRecord, string) {
	if publicKey == "" && opts.DeriveRecipient != nil {
		derived, err := opts.DeriveRecipient(secret)
		if err != nil {
			return vault.KeyRecord{}, "could not derive public key"
		}
		publicKey = strings.TrimSpace(derived)
	}
	if publicKey == "" {
		return vault.KeyRecord{}, `missing "# public key:" comment`
	}

	var note string
	if len(notes) > 0 {
		note = notes[0]
	}
	name := firstNonEmpty(note, opts.Name, "imported identity")

	var comment *string
	if created != "" {
		comment = &created
	}

	rec, err := vault.NewKeyRecord(name, publicKey, &secret, comment)
	if err != nil {
		return vault.KeyRecord{}, "invalid key record"
	}
	return rec, ""
}
