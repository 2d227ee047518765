// Package learning records every query attempt and ranks previously successful
// questions as suggestions.
//
// State lives in memory and is written to a single JSON file by Flush, which replaces
// the file wholesale (write to <file>.tmp, then rename). Updates inside one process are
// serialized by a mutex. Several processes sharing one file are last-writer-wins: each
// flush overwrites the other's patterns. Suggestions are advisory, so that is accepted.
package learning

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

const (
	DefaultMaxSuccesses = 1000
	DefaultMaxFailures  = 500
	DefaultFlushEvery   = 10

	// FileVersion is written to every flushed file.
	FileVersion = "1.0"

	// Success rate is a running mean for the first meanWindow observations, then an EMA.
	meanWindow = 10
	emaAlpha   = 0.1
)

// Config controls a Store. Zero values use the defaults.
type Config struct {
	Path         string
	MaxSuccesses int
	MaxFailures  int
	// FlushEvery requests a background flush after this many records.
	FlushEvery int
	// Now is injected by tests.
	Now func() time.Time
}

// Store is the query learning store. It is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	successes   []models.QueryOutcome
	failures    []models.QueryOutcome
	patterns    map[string]*models.LearnedPattern
	lastUpdated time.Time
	pending     int

	path         string
	maxSuccesses int
	maxFailures  int
	flushEvery   int
	now          func() time.Time
	flushCh      chan struct{}
	logger       *zap.Logger
}

// NewStore creates an empty Store. Call Load to restore persisted state.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if cfg.MaxSuccesses <= 0 {
		cfg.MaxSuccesses = DefaultMaxSuccesses
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		patterns:     make(map[string]*models.LearnedPattern),
		path:         cfg.Path,
		maxSuccesses: cfg.MaxSuccesses,
		maxFailures:  cfg.MaxFailures,
		flushEvery:   cfg.FlushEvery,
		now:          cfg.Now,
		flushCh:      make(chan struct{}, 1),
		logger:       logger.Named("learning-store"),
	}
}

// Record appends an outcome to the bounded history and updates its learned pattern.
// A degraded-path answer is recorded as a success plus a privileged-execution failure.
func (s *Store) Record(outcome *models.QueryOutcome) {
	if outcome == nil {
		return
	}
	entry := *outcome
	entry.Results = nil
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	if entry.Succeeded() {
		s.successes = appendBounded(s.successes, entry, s.maxSuccesses)
		if entry.PrivilegedFailed {
			failed := entry
			failed.ErrorKind = models.ErrorKindPrivilegedExecution
			s.failures = appendBounded(s.failures, failed, s.maxFailures)
		}
	} else {
		s.failures = appendBounded(s.failures, entry, s.maxFailures)
	}
	s.updatePattern(&entry)
	s.lastUpdated = entry.Timestamp
	s.pending++
	flush := s.pending >= s.flushEvery
	s.mu.Unlock()

	if flush {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// updatePattern must be called with s.mu held.
func (s *Store) updatePattern(o *models.QueryOutcome) {
	keywords := Keywords(o.OriginalQuery)
	intent := o.IntentType()
	key := PatternKey(intent, keywords)

	p, ok := s.patterns[key]
	if !ok {
		if len(keywords) > keywordsPerPattern {
			keywords = keywords[:keywordsPerPattern]
		}
		p = &models.LearnedPattern{
			Key:          key,
			IntentType:   intent,
			Keywords:     keywords,
			TargetTable:  string(o.Entity),
			ExampleQuery: o.OriginalQuery,
			FirstSeen:    o.Timestamp,
		}
		s.patterns[key] = p
	}

	observed := 0.0
	if o.Succeeded() {
		observed = 1.0
	}
	p.Count++
	if p.Count <= meanWindow {
		p.SuccessRate += (observed - p.SuccessRate) / float64(p.Count)
	} else {
		p.SuccessRate += emaAlpha * (observed - p.SuccessRate)
	}

	if o.Succeeded() && o.GeneratedSQL != nil {
		p.SuccessfulSQL = *o.GeneratedSQL
		p.ExampleQuery = o.OriginalQuery
		if o.Entity != "" {
			p.TargetTable = string(o.Entity)
		}
	}
	p.LastSeen = o.Timestamp
}

func appendBounded(history []models.QueryOutcome, o models.QueryOutcome, limit int) []models.QueryOutcome {
	history = append(history, o)
	if over := len(history) - limit; over > 0 {
		history = append(history[:0], history[over:]...)
	}
	return history
}

// Pattern returns a copy of the pattern with the given key.
func (s *Store) Pattern(key string) (models.LearnedPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[key]
	if !ok {
		return models.LearnedPattern{}, false
	}
	return *p, true
}
