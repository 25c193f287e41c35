// Package audit keeps an append-only, HMAC-chained JSONL log of backup
// operations. Each record carries the HMAC of its predecessor, so deleting,
// reordering or editing a line breaks the chain and is reported by Verify.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// MinDiskSpace is the free space required before a record is appended.
const MinDiskSpace = 1024 * 1024

// SchemaVersion is written into every record.
const SchemaVersion = 1

const (
	genesis  = "genesis"
	metaFile = "audit.meta"
	hkdfInfo = "bwbackup-audit-v1"
)

// Operations recorded by the backup pipeline and the CLI.
const (
	OpBackupStart   = "backup.start"
	OpBackupSuccess = "backup.success"
	OpBackupFailed  = "backup.failed"
	OpBackupDecrypt = "backup.decrypt"
	OpBackupVerify  = "backup.verify"
	OpBackupPrune   = "backup.prune"

	OpVaultLogin        = "vault.login"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLogout       = "vault.logout"
)

// Sources identify what triggered an operation.
const (
	SourceCLI    = "cli"
	SourceDaemon = "daemon"
	SourceMCP    = "mcp"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// ErrKeyNotSet is returned by Log and Verify before SetKey is called.
	ErrKeyNotSet = errors.New("audit: HMAC key not set")

	// ErrDiskSpace is returned when the log directory is almost full.
	ErrDiskSpace = errors.New("audit: insufficient disk space")
)

// Event is one line of the audit log.
type Event struct {
	Version   int               `json:"v"`
	ID        string            `json:"id"`
	Timestamp string            `json:"ts"`
	Operation string            `json:"op"`
	File      string            `json:"file,omitempty"`
	Actor     Actor             `json:"actor"`
	Result    string            `json:"result"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Context   map[string]string `json:"ctx,omitempty"`
	Chain     Chain             `json:"chain"`
}

// Actor describes who ran the operation.
type Actor struct {
	Source    string `json:"source"`
	SessionID string `json:"session"`
	Host      string `json:"host,omitempty"`
}

// ErrorInfo holds an already redacted failure message.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends events to monthly YYYY-MM.jsonl files under dir.
type Logger struct {
	dir    string
	source string
	host   string

	mu        sync.Mutex
	key       []byte
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// NewLogger returns a logger writing to dir. Events are attributed to source.
func NewLogger(dir, source string) *Logger {
	host, _ := os.Hostname()
	return &Logger{
		dir:       dir,
		source:    source,
		host:      host,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SetKey derives the chain key from secret and restores the chain position
// from the metadata file, if one exists.
func (l *Logger) SetKey(secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("audit: empty key material")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("audit: failed to derive key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.key = key

	state, err := l.readState()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

// Log appends one event and advances the chain.
func (l *Logger) Log(op, result, file string, errInfo *ErrorInfo, ctx map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("audit: failed to create log directory: %w", err)
	}
	if err := checkDiskSpace(l.dir); err != nil {
		return err
	}

	now := l.now().UTC()
	event := Event{
		Version:   SchemaVersion,
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		File:      file,
		Actor:     Actor{Source: l.source, SessionID: l.sessionID, Host: l.host},
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
		Chain:     Chain{Sequence: l.sequence + 1, PrevHash: l.prevHash},
	}
	sum, err := l.sign(&event)
	if err != nil {
		return err
	}
	event.Chain.HMAC = sum

	if err := l.append(now, &event); err != nil {
		return err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.writeState()
}

// Success records a successful operation.
func (l *Logger) Success(op, file string, ctx map[string]string) error {
	return l.Log(op, ResultSuccess, file, nil, ctx)
}

// Failure records a failed operation. msg must not contain secrets.
func (l *Logger) Failure(op, file, code, msg string) error {
	return l.Log(op, ResultError, file, &ErrorInfo{Code: code, Message: msg}, nil)
}

// sign computes the record HMAC over the JSON encoding of the event with an
// empty HMAC field. Map keys are sorted by encoding/json, so the encoding is
// stable across writes and reads.
func (l *Logger) sign(event *Event) (string, error) {
	unsigned := *event
	unsigned.Chain.HMAC = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("audit: failed to encode event: %w", err)
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (l *Logger) append(now time.Time, event *Event) error {
	name := filepath.Join(l.dir, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to encode event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) readState() (chainState, error) {
	var state chainState
	data, err := os.ReadFile(filepath.Join(l.dir, metaFile))
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("audit: corrupt chain state: %w", err)
	}
	return state, nil
}

func (l *Logger) writeState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(l.dir, metaFile), data, 0o600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence numbers, previous
// hashes and record HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: true, Records: len(events)}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	prev := genesis
	for i := range events {
		ev := &events[i]
		want := int64(i + 1)
		if ev.Chain.Sequence != want {
			fail("record %s: sequence %d, expected %d", ev.ID, ev.Chain.Sequence, want)
		}
		if ev.Chain.PrevHash != prev {
			fail("record %s: chain broken", ev.ID)
		}
		sum, err := l.sign(ev)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal([]byte(sum), []byte(ev.Chain.HMAC)) {
			fail("record %s: HMAC mismatch", ev.ID)
		}
		prev = ev.Chain.HMAC
	}
	return res, nil
}

// Events returns recorded events newer than since (zero means all). When
// limit is positive only the most recent limit events are returned.
func (l *Logger) Events(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		kept := events[:0]
		for _, ev := range events {
			ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
			if err == nil && ts.After(since) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)

	var events []Event
	for _, name := range files {
		fileEvents, err := readFile(name)
		if err != nil {
			return nil, fmt.Errorf("audit: %s: %w", filepath.Base(name), err)
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func readFile(name string) ([]Event, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}
