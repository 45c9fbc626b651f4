package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// transcriptLocks serializes appends to a single session's transcript file
// so that append order equals call order. A process-wide map keyed by
// session is sufficient since there is exactly
// one Store per process.
type transcriptLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

var globalTranscriptLocks = &transcriptLocks{locks: make(map[uuid.UUID]*sync.Mutex)}

func (t *transcriptLocks) forKey(key uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// AppendEvent appends one transcript record to session key's file. Appends
// to the same session are serialized; appends across different sessions
// may proceed concurrently.
func (s *Store) AppendEvent(key uuid.UUID, ev domain.TranscriptEvent) error {
	lock := globalTranscriptLocks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("session.Store.AppendEvent: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.transcriptPath(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session.Store.AppendEvent: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("session.Store.AppendEvent: %w", err)
	}
	return nil
}

// ReadEvents returns every record in session key's transcript, in append
// order. A partial or malformed trailing line (the result of a torn write)
// is discarded silently rather than surfaced as an error.
func (s *Store) ReadEvents(key uuid.UUID) ([]domain.TranscriptEvent, error) {
	f, err := os.Open(s.transcriptPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session.Store.ReadEvents: %w", err)
	}
	defer f.Close()

	var events []domain.TranscriptEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev domain.TranscriptEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Malformed trailing record from a torn write: discard silently
			// and stop, since a torn write can only ever be the last line.
			break
		}
		events = append(events, ev)
	}

	return events, nil
}

// LastEvents returns up to limit of the most recent transcript events, in
// append order.
func (s *Store) LastEvents(key uuid.UUID, limit int) ([]domain.TranscriptEvent, error) {
	all, err := s.ReadEvents(key)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || len(all) <= limit {
		return all, nil
	}
	return all[len(all)-limit:], nil
}
