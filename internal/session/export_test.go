package session

import "github.com/google/uuid"

// TranscriptPathForTest exposes the transcript file path for white-box
// tests that need to simulate a torn write directly on disk.
func (s *Store) TranscriptPathForTest(key uuid.UUID) string {
	return s.transcriptPath(key)
}
