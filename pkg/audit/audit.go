// Package audit records vault and engine operations in an append-only
// JSONL log protected by an HMAC chain.
//
// Each record's HMAC covers its fields and the previous record's HMAC, so
// editing, reordering or deleting records breaks the chain. The HMAC key is
// derived from the vault passphrase with HKDF; without the passphrase the
// log can be read but not verified or forged. Records carry key record ids
// only, never names or key material.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/agevault/pkg/vault"
)

// MinAuditDiskSpace is the free space required before appending.
const MinAuditDiskSpace = 1024 * 1024 // 1 MB

// DirName is the audit directory next to the key storage file.
const DirName = "audit"

const (
	hkdfInfo    = "agevault-audit-v1"
	genesisHash = "genesis"
	metaFile    = "audit.meta"
	lockFile    = "audit.lock"
)

// Operation types for audit logging
const (
	OpPassphraseCreate = "passphrase.create"

	OpVaultLoad = "vault.load"
	OpVaultSave = "vault.save"

	OpKeyGenerate = "key.generate"
	OpKeyStore    = "key.store"
	OpKeyDelete   = "key.delete"
	OpKeysExport  = "keys.export"
	OpKeysImport  = "keys.import"

	OpFileEncrypt = "file.encrypt"
	OpFileDecrypt = "file.decrypt"

	OpEngineProvision = "engine.provision"
)

// SourceCLI marks events recorded by the command line.
const SourceCLI = "cli"

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ErrKeyNotSet is returned when logging or verifying before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit log record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // UUIDv7, time-ordered
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Key       string `json:"key,omitempty"` // key record id

	Source    string `json:"source"`
	SessionID string `json:"session"`

	Result string                 `json:"result"`
	Error  *ErrorInfo             `json:"error,omitempty"`
	Ctx    map[string]interface{} `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted in audit.meta so appends continue the chain.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger handles audit log writing with HMAC chain. Appends from several
// processes are serialized with a file lock in the log directory.
type Logger struct {
	path      string
	sessionID string
	lock      *flock.Flock

	mu      sync.Mutex
	hmacKey []byte
}

// NewLogger creates a logger writing to dir.
func NewLogger(dir string) *Logger {
	return &Logger{
		path:      dir,
		sessionID: uuid.NewString(),
		lock:      flock.New(filepath.Join(dir, lockFile)),
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey derives the chain key from secret using HKDF-SHA256.
func (l *Logger) SetHMACKey(secret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key
	return nil
}

// Log appends an event.
func (l *Logger) Log(op, source, result, keyID string, errInfo *ErrorInfo, ctx map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, vault.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("audit: failed to lock log: %w", err)
	}
	defer l.lock.Unlock()

	state := l.loadChainState()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event id: %w", err)
	}
	now := time.Now().UTC()
	event := Event{
		Version:   1,
		ID:        id.String(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Key:       keyID,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Ctx:       ctx,
		Chain: Chain{
			Sequence: state.Sequence + 1,
			PrevHash: state.PrevHash,
		},
	}
	event.Chain.HMAC = l.sign(&event)

	if err := l.writeEvent(now, &event); err != nil {
		return err
	}
	return l.saveChainState(chainState{Sequence: event.Chain.Sequence, PrevHash: event.Chain.HMAC})
}

// sign computes the record HMAC over every field except the HMAC itself.
func (l *Logger) sign(event *Event) string {
	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	// Sorted keys for deterministic HMAC
	var ctxData strings.Builder
	keys := make([]string, 0, len(event.Ctx))
	for k := range event.Ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&ctxData, "%s=%v|", k, event.Ctx[k])
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Key,
		event.Source,
		event.SessionID,
		event.Result,
		errorData,
		ctxData.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) writeEvent(now time.Time, event *Event) error {
	name := filepath.Join(l.path, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, vault.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

// loadChainState reads audit.meta; a missing or unreadable file starts a
// new chain.
func (l *Logger) loadChainState() chainState {
	state := chainState{PrevHash: genesisHash}
	data, err := os.ReadFile(filepath.Join(l.path, metaFile))
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil || state.PrevHash == "" {
		return chainState{PrevHash: genesisHash}
	}
	return state
}

func (l *Logger) saveChainState(state chainState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := vault.WriteFileAtomic(filepath.Join(l.path, metaFile), data, vault.FileMode, nil); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

func (l *Logger) checkDiskSpace() error {
	info, err := vault.CheckDiskSpace(l.path)
	if err != nil {
		// Unknown free space does not block the operation
		return nil
	}
	if info.Available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			info.Available, MinAuditDiskSpace)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify recomputes the chain over every log file.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesisHash
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++
		ok := true

		if event.Chain.Sequence != expectedSeq {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(event))) {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		}

		if ok {
			result.RecordsVerified++
		} else {
			result.Valid = false
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	// A truncated tail leaves the meta ahead of the log.
	if state := l.loadChainState(); state.Sequence > 0 && state.Sequence != expectedSeq-1 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"log ends at sequence %d but chain state records %d", expectedSeq-1, state.Sequence))
	}

	return result, nil
}

// ListEvents returns events newer than since (zero = all), keeping the
// most recent limit (0 = all).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	events = filterByTime(events, since, time.Time{})

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Export writes events between since and until (zero = unbounded) as
// "json" or "csv".
func (l *Logger) Export(w io.Writer, format string, since, until time.Time) error {
	l.mu.Lock()
	events, err := l.readAll()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	events = filterByTime(events, since, until)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if events == nil {
			events = []Event{}
		}
		return enc.Encode(events)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"timestamp", "operation", "result", "key", "error"})
		for _, e := range events {
			msg := ""
			if e.Error != nil {
				msg = e.Error.Message
			}
			_ = cw.Write([]string{
				csvSafe(e.Timestamp), csvSafe(e.Operation), csvSafe(e.Result), csvSafe(e.Key), csvSafe(msg),
			})
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// csvSafe defuses spreadsheet formula injection.
func csvSafe(field string) string {
	if field != "" && strings.ContainsRune("=+-@", rune(field[0])) {
		return "'" + field
	}
	return field
}

func filterByTime(events []Event, since, until time.Time) []Event {
	if since.IsZero() && until.IsZero() {
		return events
	}
	var out []Event
	for _, e := range events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// readAll reads every YYYY-MM.jsonl file in chronological order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for n, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(line), &e); err != nil {
				return nil, fmt.Errorf("audit: %s line %d: %w", filepath.Base(file), n+1, err)
			}
			events = append(events, e)
		}
	}
	return events, nil
}
