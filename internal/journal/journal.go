// Package journal provides the append-only decision journal: a
// hash-chained JSONL file recording every event admitted to the store
// and every policy decision made over it. The chain makes after-the-fact
// tampering evident without trusting the host it runs on.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/carapace-ai/carapace/internal/model"
)

// GenesisHash is the prev_hash carried by the first entry of a new journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the wire format for journal timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line of the journal. All fields are concrete types (no
// map[string]any) so json.Marshal field order is deterministic and the
// hash chain is reproducible.
type Entry struct {
	Timestamp string `json:"ts"`
	Type      string `json:"type"` // "event" or "decision"

	EventID model.EventID    `json:"event_id,omitempty"`
	Kind    model.EventKind  `json:"kind,omitempty"`
	Trust   model.TrustLevel `json:"trust,omitempty"`
	Sources []model.EventID  `json:"sources,omitempty"`

	Tool    string        `json:"tool,omitempty"`
	AgentID string        `json:"agent_id,omitempty"`
	Outcome model.Outcome `json:"outcome,omitempty"`
	RuleID  string        `json:"rule_id,omitempty"`
	Reason  string        `json:"reason,omitempty"`

	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

// Journal is an append-only JSONL file with SHA-256 hash chaining: each
// entry's prev_hash is the hash of the previous line.
type Journal struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens or creates a journal file for appending. An existing file
// is scanned to recover the chain tail so appends continue the chain.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("journal: read existing: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("journal: scan existing: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open file: %w", err)
	}

	return &Journal{path: path, file: file, prevHash: prevHash}, nil
}

// Record appends an entry, stamping PrevHash and Timestamp (if empty),
// and syncs to disk before returning.
func (j *Journal) Record(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = j.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}

	j.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
