// Package cache holds recently executed answers keyed by normalized question text,
// so identical repeated questions skip the execution gateway.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// DefaultTTL is the soft expiry of a cached answer.
const DefaultTTL = 5 * time.Minute

// Entry is one cached answer. It carries the intent so cache hits can still be
// composed into a response and recorded by the learning store.
type Entry struct {
	GeneratedSQL      string           `json:"generated_sql"`
	Results           []map[string]any `json:"results"`
	RowCount          int              `json:"row_count"`
	Truncated         bool             `json:"truncated,omitempty"`
	Entity            models.Entity    `json:"entity"`
	Shape             models.Shape     `json:"shape"`
	MatchKind         models.MatchKind `json:"match_kind,omitempty"`
	FilterDescription string           `json:"filter_description,omitempty"`
	Limit             int              `json:"limit,omitempty"`
	StoredAt          time.Time        `json:"stored_at"`
}

// Cache stores entries for a bounded time. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
}

// Normalize lowercases text, collapses whitespace and strips trailing punctuation,
// so "How many exchanges?" and "how many  exchanges" share a key.
func Normalize(text string) string {
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Key returns the cache key for a question asked by a user. Answers scoped to
// "my" rows differ per user, so the user ID is part of the key.
func Key(text, userID string) string {
	sum := sha256.Sum256([]byte(Normalize(text) + "\x00" + userID))
	return hex.EncodeToString(sum[:])
}
