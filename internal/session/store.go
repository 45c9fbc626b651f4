// Package session implements the session store: UUID-keyed sessions with
// append-only JSONL transcripts and sidecar metadata files.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// cacheSize bounds the in-memory hot-session cache fronting the filesystem.
// A session's metadata is read on nearly every RPC that touches it
// (sessions.get, chat.send, chat.history); caching it avoids re-parsing the
// sidecar JSON file on every call while still treating the file as the
// source of truth (the cache is invalidated on every mutation).
const cacheSize = 256

// Store owns the sidecar metadata file and transcript file for every
// session under dir. It is the exclusive owner of the metadata files; the
// agent turn runner holds only a transient in-memory reference.
type Store struct {
	dir   string
	cache *lru.Cache[uuid.UUID, *domain.Session]

	// mu serializes metadata file writes. Transcript appends are
	// independently serialized per-session in transcript.go; writes across
	// the two files are not cross-file atomic: a torn write leaves a partial
	// trailing transcript line that readers discard.
	mu sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session.New: %w", err)
	}

	cache, err := lru.New[uuid.UUID, *domain.Session](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("session.New: %w", err)
	}

	return &Store{dir: dir, cache: cache}, nil
}

func (s *Store) metaPath(key uuid.UUID) string {
	return filepath.Join(s.dir, key.String()+".meta.json")
}

func (s *Store) transcriptPath(key uuid.UUID) string {
	return filepath.Join(s.dir, key.String()+".jsonl")
}

// Create mints a new session bound to agentID (or "" to use the caller's
// default) and persists its metadata file.
func (s *Store) Create(agentID string) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		Key:       uuid.New(),
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.writeMeta(sess); err != nil {
		return nil, fmt.Errorf("session.Store.Create: %w", err)
	}

	// Touch the transcript file into existence so List/Get never race an
	// absent file against a present metadata record.
	f, err := os.OpenFile(s.transcriptPath(sess.Key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session.Store.Create: %w", err)
	}
	_ = f.Close()

	s.cache.Add(sess.Key, cloneSession(sess))
	return sess, nil
}

// Get returns the session for key, or (nil, nil) if it does not exist —
// unknown keys are not an error condition.
func (s *Store) Get(key uuid.UUID) (*domain.Session, error) {
	if sess, ok := s.cache.Get(key); ok {
		return cloneSession(sess), nil
	}

	sess, err := s.readMeta(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session.Store.Get: %w", err)
	}

	s.cache.Add(key, cloneSession(sess))
	return sess, nil
}

// List returns every session's metadata, newest-first by CreatedAt.
// Malformed metadata files are skipped rather than failing the whole call.
func (s *Store) List() ([]domain.Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session.Store.List: %w", err)
	}

	var out []domain.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		const suffix = ".meta.json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}

		key, err := uuid.Parse(name[:len(name)-len(suffix)])
		if err != nil {
			continue
		}

		sess, err := s.readMeta(key)
		if err != nil {
			continue
		}
		out = append(out, *sess)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Touch updates a session's UpdatedAt timestamp.
func (s *Store) Touch(key uuid.UUID) error {
	sess, err := s.Get(key)
	if err != nil {
		return fmt.Errorf("session.Store.Touch: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session.Store.Touch: %w", domain.ErrNotFound)
	}

	sess.UpdatedAt = time.Now()
	if err := s.writeMeta(sess); err != nil {
		return fmt.Errorf("session.Store.Touch: %w", err)
	}
	s.cache.Add(key, cloneSession(sess))
	return nil
}

// SetLabel sets a session's human-readable label.
func (s *Store) SetLabel(key uuid.UUID, label string) error {
	sess, err := s.Get(key)
	if err != nil {
		return fmt.Errorf("session.Store.SetLabel: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session.Store.SetLabel: %w", domain.ErrNotFound)
	}

	sess.Label = label
	sess.UpdatedAt = time.Now()
	if err := s.writeMeta(sess); err != nil {
		return fmt.Errorf("session.Store.SetLabel: %w", err)
	}
	s.cache.Add(key, cloneSession(sess))
	return nil
}

func (s *Store) writeMeta(sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tmp := s.metaPath(sess.Key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, s.metaPath(sess.Key)); err != nil {
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}

func (s *Store) readMeta(key uuid.UUID) (*domain.Session, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return nil, err
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &sess, nil
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	return &c
}
