package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/forest6511/agevault/pkg/vault"
)

// ageRecipientRegex matches native and plugin recipients (bech32, lowercase).
var ageRecipientRegex = regexp.MustCompile(`^age1[0-9a-z]+$`)

var sshKeyTypes = []string{"ssh-ed25519", "ssh-rsa"}

// RecipientsParser parses recipients files.
type RecipientsParser struct{}

// Source returns SourceRecipients.
func (p *RecipientsParser) Source() Source { return SourceRecipients }

// Parse reads one recipient per line. The nearest preceding comment names
// the recipient; a blank line clears it. SSH keys fall back to their own
// trailing comment.
func (p *RecipientsParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	res := &ImportResult{}
	seen := make(map[string]bool)
	var pending string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			pending = ""
			continue
		case strings.HasPrefix(line, "#"):
			pending = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		case strings.HasPrefix(line, secretKeyPrefix):
			res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: "secret key in a recipients file; import it as an identity file"})
			continue
		}

		recipient, keyComment, ok := parseRecipientLine(line)
		if !ok {
			res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: "unrecognized recipient"})
			continue
		}
		if seen[recipient] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: duplicate recipient ignored", lineNo))
			continue
		}

		name := firstNonEmpty(pending, keyComment, opts.Name, "recipient")
		var comment *string
		if pending != "" {
			c := pending
			comment = &c
		}
		rec, err := vault.NewKeyRecord(name, recipient, nil, comment)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedItem{Line: lineNo, Reason: "invalid key record"})
			continue
		}
		seen[recipient] = true
		res.Records = append(res.Records, rec)
		pending = ""
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("importer: failed to read recipients file: %w", err)
	}

	return finish(res)
}

// parseRecipientLine returns the recipient as age expects it and any
// trailing SSH key comment.
func parseRecipientLine(line string) (recipient, comment string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 1 && ageRecipientRegex.MatchString(fields[0]) {
		return fields[0], "", true
	}
	for _, typ := range sshKeyTypes {
		if fields[0] == typ && len(fields) >= 2 {
			return typ + " " + fields[1], strings.Join(fields[2:], " "), true
		}
	}
	return "", "", false
}
