package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLogger(t *testing.T, dir string) *Logger {
	t.Helper()
	logger := NewLogger(dir)
	if err := logger.SetHMACKey([]byte("test-vault-passphrase")); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	return logger
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	return files
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	if logger.Path() != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, logger.Path())
	}
	if logger.sessionID == "" {
		t.Error("expected non-empty sessionID")
	}
	if other := NewLogger(tmpDir); other.sessionID == logger.sessionID {
		t.Error("expected distinct session ids")
	}
}

func TestSetHMACKey(t *testing.T) {
	logger := newTestLogger(t, t.TempDir())
	if len(logger.hmacKey) != 32 {
		t.Errorf("expected hmacKey length 32, got %d", len(logger.hmacKey))
	}
	if bytes.Equal(logger.hmacKey, []byte("test-vault-passphrase")) {
		t.Error("HMAC key should be derived, not the raw secret")
	}
}

func TestLogWithoutHMACKey(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	err := logger.Log(OpKeyGenerate, SourceCLI, ResultSuccess, "id-1", nil, nil)
	if !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("expected ErrKeyNotSet, got %v", err)
	}
	if len(logFiles(t, tmpDir)) != 0 {
		t.Error("no log file should be written without a key")
	}
	if _, err := logger.Verify(); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("Verify: expected ErrKeyNotSet, got %v", err)
	}
}

func TestLogSuccessEvent(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger(t, tmpDir)

	if err := logger.Log(OpKeyStore, SourceCLI, ResultSuccess, "id-1", nil, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	files := logFiles(t, tmpDir)
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}
	want := time.Now().UTC().Format("2006-01") + ".jsonl"
	if filepath.Base(files[0]) != want {
		t.Errorf("expected log file %s, got %s", want, filepath.Base(files[0]))
	}

	info, err := os.Stat(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var event Event
	if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}

	if event.Version != 1 {
		t.Errorf("expected version 1, got %d", event.Version)
	}
	if event.Operation != OpKeyStore {
		t.Errorf("expected op %s, got %s", OpKeyStore, event.Operation)
	}
	if event.Key != "id-1" {
		t.Errorf("expected key id-1, got %s", event.Key)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected result success, got %s", event.Result)
	}
	if event.Chain.Sequence != 1 {
		t.Errorf("expected seq 1, got %d", event.Chain.Sequence)
	}
	if event.Chain.PrevHash != "genesis" {
		t.Errorf("expected prev genesis, got %s", event.Chain.PrevHash)
	}
	if len(event.Chain.HMAC) != 64 {
		t.Errorf("expected 64 hex chars HMAC, got %d", len(event.Chain.HMAC))
	}
	if _, err := time.Parse(time.RFC3339Nano, event.Timestamp); err != nil {
		t.Errorf("timestamp not RFC 3339: %v", err)
	}
}

func TestLogErrorEvent(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger(t, tmpDir)

	if err := logger.Log(OpFileDecrypt, SourceCLI, ResultError, "id-2", &ErrorInfo{Code: "failed", Message: "no identity matched"}, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Result != ResultError {
		t.Errorf("expected result error, got %s", e.Result)
	}
	if e.Error == nil || e.Error.Code != "failed" || e.Error.Message != "no identity matched" {
		t.Errorf("unexpected error info: %+v", e.Error)
	}
}

func TestChainIntegrity(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger(t, tmpDir)

	for i := 0; i < 5; i++ {
		ctx := map[string]interface{}{"recipients": i, "armor": i%2 == 0}
		if err := logger.Log(OpFileEncrypt, SourceCLI, ResultSuccess, "id", nil, ctx); err != nil {
			t.Fatalf("Log %d failed: %v", i, err)
		}
	}

	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 || result.RecordsVerified != 5 {
		t.Errorf("expected 5/5 verified, got %d/%d", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestChainPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	first := newTestLogger(t, tmpDir)
	for i := 0; i < 3; i++ {
		if err := first.Log(OpVaultSave, SourceCLI, ResultSuccess, "", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	second := newTestLogger(t, tmpDir)
	for i := 0; i < 2; i++ {
		if err := second.Log(OpVaultLoad, SourceCLI, ResultSuccess, "", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	events, err := second.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[3].Chain.Sequence != 4 {
		t.Errorf("expected seq 4 after restart, got %d", events[3].Chain.Sequence)
	}
	if events[3].SessionID == events[2].SessionID {
		t.Error("expected a new session id for the second logger")
	}

	result, err := second.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain across loggers, errors: %v", result.Errors)
	}
}

func TestConcurrentLoggers(t *testing.T) {
	tmpDir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		logger := newTestLogger(t, tmpDir)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := logger.Log(OpKeyGenerate, SourceCLI, ResultSuccess, "", nil, nil); err != nil {
					t.Errorf("Log failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	result, err := newTestLogger(t, tmpDir).Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.RecordsTotal != 20 {
		t.Errorf("expected 20 valid records, got %d valid=%v errors=%v",
			result.RecordsTotal, result.Valid, result.Errors)
	}
}

func TestTamperingDetection(t *testing.T) {
	setup := func(t *testing.T) (*Logger, string) {
		t.Helper()
		dir := t.TempDir()
		logger := newTestLogger(t, dir)
		for _, op := range []string{OpKeyGenerate, OpKeyStore, OpKeysExport} {
			if err := logger.Log(op, SourceCLI, ResultSuccess, "id-1", nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		return logger, logFiles(t, dir)[0]
	}

	readLines := func(t *testing.T, path string) []string {
		t.Helper()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
	writeLines := func(t *testing.T, path string, lines []string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("modified field", func(t *testing.T) {
		logger, path := setup(t)
		lines := readLines(t, path)
		lines[1] = strings.Replace(lines[1], OpKeyStore, OpKeyDelete, 1)
		writeLines(t, path, lines)

		result, err := logger.Verify()
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Error("expected tampering to be detected")
		}
		if result.RecordsVerified != 2 {
			t.Errorf("expected 2 intact records, got %d", result.RecordsVerified)
		}
	})

	t.Run("deleted record", func(t *testing.T) {
		logger, path := setup(t)
		lines := readLines(t, path)
		writeLines(t, path, []string{lines[0], lines[2]})

		result, err := logger.Verify()
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Error("expected deletion to be detected")
		}
	})

	t.Run("truncated tail", func(t *testing.T) {
		logger, path := setup(t)
		lines := readLines(t, path)
		writeLines(t, path, lines[:2])

		result, err := logger.Verify()
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid {
			t.Error("expected truncation to be detected")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		logger, _ := setup(t)
		other := NewLogger(logger.Path())
		if err := other.SetHMACKey([]byte("another passphrase")); err != nil {
			t.Fatal(err)
		}
		result, err := other.Verify()
		if err != nil {
			t.Fatal(err)
		}
		if result.Valid || result.RecordsVerified != 0 {
			t.Errorf("expected no records verified with wrong key, got %d", result.RecordsVerified)
		}
	})
}

func TestVerifyEmptyLog(t *testing.T) {
	logger := newTestLogger(t, t.TempDir())

	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Error("expected empty log to be valid")
	}
	if result.RecordsTotal != 0 {
		t.Errorf("expected 0 records, got %d", result.RecordsTotal)
	}
}

func TestListEvents(t *testing.T) {
	logger := newTestLogger(t, t.TempDir())

	for i := 0; i < 5; i++ {
		if err := logger.Log(OpKeyGenerate, SourceCLI, ResultSuccess, "", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	events, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events, got %d", len(events))
	}

	events, err = logger.ListEvents(2, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Chain.Sequence != 5 {
		t.Errorf("expected most recent events, last seq %d", events[1].Chain.Sequence)
	}

	events, err = logger.ListEvents(0, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events in the future, got %d", len(events))
	}
}

func TestExport(t *testing.T) {
	logger := newTestLogger(t, t.TempDir())
	if err := logger.Log(OpKeyStore, SourceCLI, ResultSuccess, "id-1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := logger.Log(OpKeysImport, SourceCLI, ResultError, "", &ErrorInfo{Code: "failed", Message: "=HYPERLINK(\"x\")"}, nil); err != nil {
		t.Fatal(err)
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := logger.Export(&buf, "json", time.Time{}, time.Time{}); err != nil {
			t.Fatal(err)
		}
		var events []Event
		if err := json.Unmarshal(buf.Bytes(), &events); err != nil {
			t.Fatalf("invalid JSON export: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("expected 2 events, got %d", len(events))
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := logger.Export(&buf, "csv", time.Time{}, time.Time{}); err != nil {
			t.Fatal(err)
		}
		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 3 {
			t.Fatalf("expected header + 2 rows, got %d", len(rows))
		}
		if got := rows[2][4]; !strings.HasPrefix(got, "'=") {
			t.Errorf("formula not escaped: %q", got)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if err := logger.Export(&bytes.Buffer{}, "xml", time.Time{}, time.Time{}); err == nil {
			t.Error("expected error for unsupported format")
		}
	})
}

func TestCSVSafe(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"key.store": "key.store",
		"=1+1":      "'=1+1",
		"+cmd":      "'+cmd",
		"-2":        "'-2",
		"@sum":      "'@sum",
	}
	for in, want := range tests {
		if got := csvSafe(in); got != want {
			t.Errorf("csvSafe(%q) = %q, want %q", in, got, want)
		}
	}
}
