package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// fileState is the persisted document. It is rewritten wholesale on every flush.
type fileState struct {
	SuccessfulQueries []models.QueryOutcome             `json:"successful_queries"`
	FailedQueries     []models.QueryOutcome             `json:"failed_queries"`
	QueryPatterns     map[string]*models.LearnedPattern `json:"query_patterns"`
	LastUpdated       time.Time                         `json:"last_updated"`
	Version           string                            `json:"version"`
}

// Load replaces the in-memory state with the persisted file. A missing file is not an
// error. An unreadable or corrupt file is reported, the store keeps its empty state and
// the next flush overwrites the file.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("No learning file yet, starting empty", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read learning file %s: %w", s.path, err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode learning file %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes = trimOldest(state.SuccessfulQueries, s.maxSuccesses)
	s.failures = trimOldest(state.FailedQueries, s.maxFailures)
	s.patterns = make(map[string]*models.LearnedPattern, len(state.QueryPatterns))
	for key, p := range state.QueryPatterns {
		if p == nil {
			continue
		}
		p.Key = key
		s.patterns[key] = p
	}
	s.lastUpdated = state.LastUpdated
	s.pending = 0

	s.logger.Info("Loaded learning state",
		zap.Int("successes", len(s.successes)),
		zap.Int("failures", len(s.failures)),
		zap.Int("patterns", len(s.patterns)))
	return nil
}

func trimOldest(history []models.QueryOutcome, limit int) []models.QueryOutcome {
	if len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}

// Flush writes the full state to <path>.tmp and renames it over the file, so readers
// never observe a partial document.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	state := fileState{
		SuccessfulQueries: append([]models.QueryOutcome(nil), s.successes...),
		FailedQueries:     append([]models.QueryOutcome(nil), s.failures...),
		QueryPatterns:     make(map[string]*models.LearnedPattern, len(s.patterns)),
		LastUpdated:       s.lastUpdated,
		Version:           FileVersion,
	}
	for key, p := range s.patterns {
		cp := *p
		state.QueryPatterns[key] = &cp
	}
	flushed := s.pending
	s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal learning state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create learning directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write learning file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace learning file: %w", err)
	}

	s.mu.Lock()
	s.pending -= flushed
	if s.pending < 0 {
		s.pending = 0
	}
	s.mu.Unlock()

	s.logger.Debug("Flushed learning state",
		zap.Int("successes", len(state.SuccessfulQueries)),
		zap.Int("failures", len(state.FailedQueries)),
		zap.Int("patterns", len(state.QueryPatterns)))
	return nil
}

// Run flushes whenever Record signals FlushEvery new records and at every interval tick,
// and once more when ctx is done. It blocks until then.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func(reason string) {
		if err := s.Flush(); err != nil {
			s.logger.Error("Failed to flush learning state", zap.String("trigger", reason), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush("shutdown")
			return
		case <-s.flushCh:
			flush("record_count")
		case <-ticker.C:
			if s.hasPending() {
				flush("interval")
			}
		}
	}
}

func (s *Store) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}
