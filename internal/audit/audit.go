// Package audit implements the append-only structured event log and the
// secret-redaction boundary every tool output and audit entry
// passes through. Writes are best-effort: a logging failure must never
// cascade into the request path that triggered it.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind enumerates the audit event kinds.
type Kind string

const (
	KindToolExec     Kind = "tool_exec"
	KindToolDenied   Kind = "tool_denied"
	KindSchedulerRun Kind = "scheduler_run"
)

// Entry is one append-only audit.jsonl record. Seq is a monotonic counter
// assigned at write time so concurrent writers (the scheduler and a live
// chat run) can be totally ordered on read even though their wall-clock
// timestamps may not be strictly increasing.
type Entry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       Kind           `json:"kind"`
	SessionKey *uuid.UUID     `json:"sessionKey,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Logger appends Entry records to a single JSONL file.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	seq     uint64
	enabled bool
}

// Open opens (creating if necessary) the audit log at path. enabled=false
// makes every Record call a no-op, matching the security.auditLog config
// toggle without forcing every call site to branch on it.
func Open(path string, enabled bool) (*Logger, error) {
	if !enabled {
		return &Logger{enabled: false}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit.Open: %w", err)
	}
	return &Logger{file: f, enabled: true}, nil
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Record appends one entry. Failures are logged and swallowed — the audit
// log must never be why a request fails.
func (l *Logger) Record(kind Kind, sessionKey *uuid.UUID, toolName string, detail map[string]any) {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	l.seq++
	entry := Entry{
		Seq:        l.seq,
		Timestamp:  time.Now(),
		Kind:       kind,
		SessionKey: sessionKey,
		ToolName:   toolName,
		Detail:     detail,
	}
	data, err := json.Marshal(entry)
	if err == nil {
		data = append(data, '\n')
		_, err = l.file.Write(data)
	}
	l.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("audit.Logger.Record: write failed")
	}
}
