// Package metrics records every render attempt and validation verdict into
// a session-partitioned, file-backed store, and derives aggregate statistics
// and top failure patterns for reporting.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/logging"
	"github.com/oviney/economist-agents-sub001/internal/render"
)

const storeVersion = "1.0"

// Summary holds the aggregate statistics recomputed from all sessions at
// finalize time.
type Summary struct {
	TotalCharts         int   `json:"total_charts"`
	TotalValidationRuns int   `json:"total_validation_runs"`
	PassCount           int   `json:"pass_count"`
	FailCount           int   `json:"fail_count"`
	TotalViolations     int   `json:"total_violations"`
	TotalRegenerations  int   `json:"total_regenerations"`
	TotalRenderTimeMs   int64 `json:"total_render_time_ms"`
}

// FailurePattern is a deduplicated (rule, normalized message) pair tracked
// with frequency and recency across all sessions ever recorded.
type FailurePattern struct {
	RuleID    string    `json:"rule_id"`
	Pattern   string    `json:"pattern"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// AttemptRecord is the persisted trace of one render attempt.
type AttemptRecord struct {
	Number         int    `json:"number"`
	RenderOK       bool   `json:"render_ok"`
	RenderError    string `json:"render_error,omitempty"`
	RenderTimeMs   int64  `json:"render_time_ms"`
	Validated      bool   `json:"validated"`
	Passed         bool   `json:"passed"`
	CriticalCount  int    `json:"critical_count"`
	WarningCount   int    `json:"warning_count"`
	ViolationCount int    `json:"violation_count"`
}

// Transition is one regeneration state change, recorded as it occurs so
// interrupted sessions still carry partial data.
type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// ChartRecord is the per-request attempt history within a session.
type ChartRecord struct {
	RequestID   string          `json:"request_id"`
	StartedAt   time.Time       `json:"started_at"`
	Attempts    []AttemptRecord `json:"attempts"`
	Transitions []Transition    `json:"transitions,omitempty"`
}

// SessionRecord partitions the store by pipeline run.
type SessionRecord struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Charts    []*ChartRecord `json:"charts"`
}

// storeFile is the root document persisted at the store path.
type storeFile struct {
	Version         string                     `json:"version"`
	LastUpdated     time.Time                  `json:"last_updated"`
	Summary         Summary                    `json:"summary"`
	FailurePatterns map[string]*FailurePattern `json:"failure_patterns"`
	Sessions        []*SessionRecord           `json:"sessions"`
}

// ChartHandle identifies one chart request's record for attempt recording.
type ChartHandle struct {
	requestID string
	record    *ChartRecord
}

// RequestID returns the request this handle records for.
func (h *ChartHandle) RequestID() string {
	if h == nil {
		return ""
	}
	return h.requestID
}

// Store is the single long-lived metrics object. All mutation goes through
// its mutex; accessors return copies.
type Store struct {
	mu      sync.Mutex
	path    string
	data    storeFile
	session *SessionRecord
}

// Open loads (or initializes) the store at path and begins a new session.
// A missing file yields a fresh store; a corrupt file is logged and replaced
// rather than aborting the pipeline.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("metrics store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics dir: %w", err)
	}

	s := &Store{
		path: path,
		data: storeFile{
			Version:         storeVersion,
			FailurePatterns: make(map[string]*FailurePattern),
		},
	}

	if err := s.load(); err != nil {
		logging.MetricsWarn("discarding unreadable metrics store %s: %v", path, err)
		s.data = storeFile{
			Version:         storeVersion,
			FailurePatterns: make(map[string]*FailurePattern),
		}
	}

	s.session = &SessionRecord{
		ID:        fmt.Sprintf("session_%s", uuid.New().String()[:8]),
		StartedAt: time.Now().UTC(),
	}
	s.data.Sessions = append(s.data.Sessions, s.session)

	logging.Metrics("metrics store opened: %s (%d prior sessions)", path, len(s.data.Sessions)-1)
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}

	// Tolerate partial files from older versions.
	if s.data.Version == "" {
		s.data.Version = storeVersion
	}
	if s.data.FailurePatterns == nil {
		s.data.FailurePatterns = make(map[string]*FailurePattern)
	}
	return nil
}

// SessionID returns the identifier of the session started at Open.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// StartChart registers a new chart request in the current session and
// returns the handle used to record its attempts.
func (s *Store) StartChart(requestID string) *ChartHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &ChartRecord{
		RequestID: requestID,
		StartedAt: time.Now().UTC(),
	}
	s.session.Charts = append(s.session.Charts, record)
	logging.MetricsDebug("chart started: %s", requestID)
	return &ChartHandle{requestID: requestID, record: record}
}

// RecordAttempt adds one attempt to the handle's chart and folds the
// report's violations into the failure-pattern index. A nil report is
// normal for a failed render; a nil report for a successful render is a
// caller bug and lands in the index under "unknown" so it stays visible.
// Never returns an error: losing a metric must not fail a chart.
func (s *Store) RecordAttempt(h *ChartHandle, attempt *render.Attempt, report *layout.Report) {
	if h == nil || h.record == nil || attempt == nil {
		logging.MetricsWarn("RecordAttempt called with nil handle or attempt")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := AttemptRecord{
		Number:       attempt.Number,
		RenderOK:     attempt.RenderOK,
		RenderError:  attempt.RenderError,
		RenderTimeMs: attempt.Duration.Milliseconds(),
	}

	now := time.Now().UTC()
	switch {
	case report != nil:
		rec.Validated = true
		rec.Passed = report.Passed
		rec.CriticalCount = report.CriticalCount()
		rec.WarningCount = report.WarningCount()
		rec.ViolationCount = len(report.Violations)
		for _, v := range report.Violations {
			s.upsertPattern(v.RuleID, v.Message, now)
		}
	case attempt.RenderOK:
		logging.MetricsWarn("attempt %d for %s rendered but has no validation report", attempt.Number, h.requestID)
		s.upsertPattern("unknown", "unknown", now)
	}

	h.record.Attempts = append(h.record.Attempts, rec)
	logging.MetricsDebug("attempt %d recorded for %s (render_ok=%v validated=%v passed=%v)",
		rec.Number, h.requestID, rec.RenderOK, rec.Validated, rec.Passed)
}

// RecordTransition appends one regeneration state change to the chart's
// trace immediately, not batched, so interrupted runs keep partial history.
func (s *Store) RecordTransition(h *ChartHandle, from, to string) {
	if h == nil || h.record == nil {
		logging.MetricsWarn("RecordTransition called with nil handle")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h.record.Transitions = append(h.record.Transitions, Transition{
		From: from,
		To:   to,
		At:   time.Now().UTC(),
	})
}

func (s *Store) upsertPattern(ruleID, message string, now time.Time) {
	key := PatternKey(ruleID, message)
	if p, ok := s.data.FailurePatterns[key]; ok {
		p.Count++
		p.LastSeen = now
		return
	}
	s.data.FailurePatterns[key] = &FailurePattern{
		RuleID:    ruleID,
		Pattern:   normalizeMessage(message),
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
}

// FinalizeSession closes the current session, recomputes the summary from
// the full session history and persists the store atomically.
func (s *Store) FinalizeSession() (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.EndedAt.IsZero() {
		s.session.EndedAt = time.Now().UTC()
	}

	// Recompute from scratch rather than incrementally, so a missed update
	// earlier in the session cannot drift the totals.
	s.data.Summary = computeSummary(s.data.Sessions)
	s.data.LastUpdated = time.Now().UTC()

	if err := s.persistLocked(); err != nil {
		return s.data.Summary, fmt.Errorf("failed to persist metrics store: %w", err)
	}
	logging.Metrics("session %s finalized: %d charts, %d validation runs",
		s.session.ID, s.data.Summary.TotalCharts, s.data.Summary.TotalValidationRuns)
	return s.data.Summary, nil
}

func computeSummary(sessions []*SessionRecord) Summary {
	var sum Summary
	for _, sess := range sessions {
		for _, chart := range sess.Charts {
			sum.TotalCharts++
			if n := len(chart.Attempts); n > 1 {
				sum.TotalRegenerations += n - 1
			}
			for _, a := range chart.Attempts {
				sum.TotalRenderTimeMs += a.RenderTimeMs
				if a.Validated {
					sum.TotalValidationRuns++
					sum.TotalViolations += a.ViolationCount
				}
				if a.Validated && a.Passed {
					sum.PassCount++
				} else {
					sum.FailCount++
				}
			}
		}
	}
	return sum
}

// persistLocked writes to a temp file in the target directory then renames,
// so a crash mid-write never corrupts prior history.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".metrics-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// GetSummary returns the last finalized summary.
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Summary
}

// TopFailurePatterns returns the n highest-count patterns, ties broken by
// most-recent LastSeen, used to drive "prioritize this fix" recommendations.
func (s *Store) TopFailurePatterns(n int) []FailurePattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	patterns := make([]FailurePattern, 0, len(s.data.FailurePatterns))
	for _, p := range s.data.FailurePatterns {
		patterns = append(patterns, *p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		if !patterns[i].LastSeen.Equal(patterns[j].LastSeen) {
			return patterns[i].LastSeen.After(patterns[j].LastSeen)
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})

	if n > 0 && n < len(patterns) {
		patterns = patterns[:n]
	}
	return patterns
}

// numericLiteral matches integers and decimals so coordinates dedupe into
// one pattern regardless of exact values.
var numericLiteral = regexp.MustCompile(`\d+(\.\d+)?`)

// PatternKey builds the dedup key for a violation.
func PatternKey(ruleID, message string) string {
	return ruleID + "|" + normalizeMessage(message)
}

// normalizeMessage lower-cases, replaces numeric literals with N and
// collapses whitespace.
func normalizeMessage(message string) string {
	lower := strings.ToLower(message)
	masked := numericLiteral.ReplaceAllString(lower, "N")
	return strings.Join(strings.Fields(masked), " ")
}
