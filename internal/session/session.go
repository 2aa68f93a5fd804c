// Package session holds the state shared by one comparison request: the
// verdict cache and a temporary workspace removed by Close.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

type Session struct {
	id  string
	log logger.Logger

	mu       sync.Mutex
	verdicts map[string]models.Verdict
	tempDir  string
	closed   bool

	judging singleflight.Group
	files   singleflight.Group
}

func New(log logger.Logger) *Session {
	return &Session{
		id:       uuid.NewString(),
		log:      log,
		verdicts: make(map[string]models.Verdict),
	}
}

func (s *Session) ID() string { return s.id }

// Verdict returns the cached verdict for an annotation id.
func (s *Session) Verdict(annotationID string) (models.Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verdicts[annotationID]
	return v, ok
}

// JudgeOnce returns the cached verdict for annotationID, or runs judge and
// caches its result. Concurrent callers for the same id share one run.
func (s *Session) JudgeOnce(annotationID string, judge func() models.Verdict) models.Verdict {
	if v, ok := s.Verdict(annotationID); ok {
		return v
	}
	v, _, _ := s.judging.Do(annotationID, func() (any, error) {
		if v, ok := s.Verdict(annotationID); ok {
			return v, nil
		}
		v := judge()
		s.mu.Lock()
		s.verdicts[annotationID] = v
		s.mu.Unlock()
		return v, nil
	})
	return v.(models.Verdict)
}

// TempDir returns the session workspace, creating it on first use.
func (s *Session) TempDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("session %s is closed", s.id)
	}
	if s.tempDir == "" {
		dir, err := os.MkdirTemp("", "batiment-"+s.id+"-")
		if err != nil {
			return "", fmt.Errorf("failed to create session workspace: %w", err)
		}
		s.tempDir = dir
		s.log.Debug("Created session workspace %s", dir)
	}
	return s.tempDir, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CachedFile returns the bytes stored under name in the workspace,
// producing and storing them on first request.
func (s *Session) CachedFile(name string, produce func() ([]byte, error)) ([]byte, error) {
	dir, err := s.TempDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, unsafeName.ReplaceAllString(name, "_"))

	v, err, _ := s.files.Do(path, func() (any, error) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		data, err := produce()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Close removes the workspace. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("failed to remove session workspace: %w", err)
	}
	s.log.Debug("Removed session workspace %s", s.tempDir)
	return nil
}
