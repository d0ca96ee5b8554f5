// Package progress keeps per-vowel practice statistics and the recent
// session log in a string key/value store.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"
)

// Storage keys.
const (
	KeyProgress      = "progressData"
	KeyRecent        = "recentSessions"
	KeySchemaVersion = "progressSchemaVersion"
)

const (
	// SchemaVersion is the version of the records this package writes.
	SchemaVersion = 1

	// MaxRecent bounds the recent session log.
	MaxRecent = 20
)

// ErrSchemaTooNew is returned when stored records were written by a newer
// schema. Such records are read as empty and never overwritten.
var ErrSchemaTooNew = errors.New("progress: stored schema is newer than supported")

// KV is the string key/value storage the progress records live in.
type KV interface {
	Get(key string) (string, bool, error)
	SetMany(pairs map[string]string) error
	Remove(keys ...string) error
}

// VowelProgress holds the accumulated statistics for one label.
type VowelProgress struct {
	BestScore float64 `json:"bestScore"`
	Sessions  int     `json:"sessions"`
	TotalTime int64   `json:"totalTime"` // seconds
}

// RecentSession is one entry of the recent session log.
type RecentSession struct {
	Vowel     string  `json:"vowel"`
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

// Config holds options for a Store.
type Config struct {
	KV KV

	// Now supplies session timestamps. Default: time.Now.
	Now func() time.Time
}

// Store reads and writes progress records. Finalize and Reset are serialized.
type Store struct {
	kv  KV
	now func() time.Time
	mu  sync.Mutex
}

// New creates a Store over cfg.KV.
func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{kv: cfg.KV, now: cfg.Now}
}

// Finalize records a finished session for label. The best score only rises,
// the session count grows by one and elapsedSeconds is rounded to whole
// seconds before being added. The session is prepended to the recent log,
// which is kept at MaxRecent entries.
func (s *Store) Finalize(label string, score, elapsedSeconds float64) (VowelProgress, error) {
	if label == "" {
		return VowelProgress{}, errors.New("progress: empty label")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	if math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) || elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(); err != nil {
		return VowelProgress{}, err
	}

	data, err := s.readProgress()
	if err != nil {
		return VowelProgress{}, err
	}
	recent, err := s.readRecent()
	if err != nil {
		return VowelProgress{}, err
	}

	entry := data[label]
	entry.BestScore = math.Max(entry.BestScore, score)
	entry.Sessions++
	entry.TotalTime = addSeconds(entry.TotalTime, elapsedSeconds)
	data[label] = entry

	recent = append([]RecentSession{{
		Vowel:     label,
		Score:     score,
		Timestamp: s.now().UnixMilli(),
	}}, recent...)
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}

	progressJSON, err := json.Marshal(data)
	if err != nil {
		return VowelProgress{}, fmt.Errorf("encode progress: %w", err)
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return VowelProgress{}, fmt.Errorf("encode recent sessions: %w", err)
	}

	if err := s.kv.SetMany(map[string]string{
		KeyProgress:      string(progressJSON),
		KeyRecent:        string(recentJSON),
		KeySchemaVersion: strconv.Itoa(SchemaVersion),
	}); err != nil {
		return VowelProgress{}, fmt.Errorf("save progress: %w", err)
	}

	slog.Info("session finalized", "vowel", label, "score", score, "elapsed", elapsedSeconds)
	return entry, nil
}

// Reset removes all progress records.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(KeyProgress, KeyRecent, KeySchemaVersion); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

// Progress returns the per-label statistics. Missing or malformed records
// read as empty.
func (s *Store) Progress() (map[string]VowelProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(); err != nil {
		return map[string]VowelProgress{}, nil
	}
	return s.readProgress()
}

// Recent returns the recent session log, most recent first.
func (s *Store) Recent() ([]RecentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(); err != nil {
		return []RecentSession{}, nil
	}
	return s.readRecent()
}

// checkVersion reports ErrSchemaTooNew when the stored records were written
// by a newer schema. An absent or unreadable version is treated as current.
func (s *Store) checkVersion() error {
	raw, ok, err := s.kv.Get(KeySchemaVersion)
	if err != nil || !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Debug("ignoring malformed schema version", "value", raw)
		return nil
	}
	if v > SchemaVersion {
		slog.Warn("progress records use a newer schema", "stored", v, "supported", SchemaVersion)
		return fmt.Errorf("%w: %d", ErrSchemaTooNew, v)
	}
	return nil
}

func (s *Store) readProgress() (map[string]VowelProgress, error) {
	out := make(map[string]VowelProgress)

	raw, ok, err := s.kv.Get(KeyProgress)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if !ok {
		return out, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Debug("discarding malformed progress", "err", err)
		return out, nil
	}

	for label, msg := range entries {
		var vp VowelProgress
		if err := json.Unmarshal(msg, &vp); err != nil || !validProgress(label, vp) {
			slog.Debug("dropping invalid progress entry", "vowel", label)
			continue
		}
		out[label] = vp
	}
	return out, nil
}

// addSeconds adds a non-negative elapsed time to total, saturating at
// math.MaxInt64 so the total never wraps negative.
func addSeconds(total int64, elapsed float64) int64 {
	rounded := math.Round(elapsed)
	if rounded >= float64(math.MaxInt64-total) {
		return math.MaxInt64
	}
	return total + int64(rounded)
}

func validProgress(label string, vp VowelProgress) bool {
	if label == "" {
		return false
	}
	if math.IsNaN(vp.BestScore) || math.IsInf(vp.BestScore, 0) {
		return false
	}
	return vp.Sessions >= 0 && vp.TotalTime >= 0
}

func (s *Store) readRecent() ([]RecentSession, error) {
	raw, ok, err := s.kv.Get(KeyRecent)
	if err != nil {
		return nil, fmt.Errorf("load recent sessions: %w", err)
	}
	if !ok {
		return []RecentSession{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Debug("discarding malformed recent sessions", "err", err)
		return []RecentSession{}, nil
	}

	out := make([]RecentSession, 0, len(entries))
	for _, msg := range entries {
		var rs RecentSession
		if err := json.Unmarshal(msg, &rs); err != nil || rs.Vowel == "" {
			continue
		}
		out = append(out, rs)
		if len(out) == MaxRecent {
			break
		}
	}
	return out, nil
}
