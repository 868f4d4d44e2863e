package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Session lifecycle events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Chart request lifecycle events
	AuditChartRequest   AuditEventType = "chart_request"
	AuditChartAccepted  AuditEventType = "chart_accepted"
	AuditChartExhausted AuditEventType = "chart_exhausted"

	// Render events
	AuditRenderAttempt AuditEventType = "render_attempt"
	AuditRenderError   AuditEventType = "render_error"

	// Layout validation events
	AuditValidationPass AuditEventType = "validation_pass"
	AuditValidationFail AuditEventType = "validation_fail"

	// Regeneration state machine events
	AuditRegenTransition AuditEventType = "regen_transition"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Dataset events
	AuditDatasetLoad AuditEventType = "dataset_load"

	// Artifact file operations
	AuditArtifactWrite AuditEventType = "artifact_write"
	AuditArtifactError AuditEventType = "artifact_error"

	// Error events
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"

	// Performance
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent is one structured entry in the audit trail. Events are written
// as JSON lines so a pipeline run can be replayed or analyzed offline.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Event type
	Category   string                 `json:"cat"`     // Log category
	SessionID  string                 `json:"session"` // Session correlation
	RequestID  string                 `json:"req"`     // Chart request correlation
	Attempt    int                    `json:"attempt"` // Render attempt number, 0 if n/a
	Target     string                 `json:"target"`  // Target of operation
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile *os.File
	auditMu   sync.Mutex

	// Unscoped logger handed out by Audit. Eagerly built so concurrent
	// pipeline workers share it without a lazy-init race.
	auditLogger = &AuditLogger{}
)

// AuditLogger writes audit events scoped to a session or chart request
type AuditLogger struct {
	sessionID string
	requestID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	// Write header
	header := fmt.Sprintf("# Audit log started at %s\n# Format: one JSON event per line\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithRequest creates an audit logger scoped to a chart request
func AuditWithRequest(sessionID, requestID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID, requestID: requestID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(sessionID, requestID string, category Category) *AuditLogger {
	return &AuditLogger{
		sessionID: sessionID,
		requestID: requestID,
		category:  category,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	// Write JSON line
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// SessionStart logs session start
func (a *AuditLogger) SessionStart(sessionID string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		SessionID: sessionID,
		Success:   true,
		Message:   fmt.Sprintf("Session started: %s", sessionID),
	})
}

// SessionEnd logs session end
func (a *AuditLogger) SessionEnd(sessionID string, chartCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		SessionID:  sessionID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"chart_count": chartCount},
		Message:    fmt.Sprintf("Session ended: %s (%d charts, %dms)", sessionID, chartCount, durationMs),
	})
}

// ChartRequested logs the arrival of a chart request
func (a *AuditLogger) ChartRequested(requestID, kind string, seriesCount int) {
	a.Log(AuditEvent{
		EventType: AuditChartRequest,
		RequestID: requestID,
		Target:    kind,
		Success:   true,
		Fields:    map[string]interface{}{"series_count": seriesCount},
		Message:   fmt.Sprintf("Chart requested: %s (%s, %d series)", requestID, kind, seriesCount),
	})
}

// ChartDone logs the terminal outcome of a chart request
func (a *AuditLogger) ChartDone(requestID string, accepted bool, attempts int, durationMs int64) {
	eventType := AuditChartAccepted
	if !accepted {
		eventType = AuditChartExhausted
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		RequestID:  requestID,
		Success:    accepted,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"attempts": attempts},
		Message:    fmt.Sprintf("Chart %s: %s after %d attempts (%dms)", eventType, requestID, attempts, durationMs),
	})
}

// RenderAttempt logs one render attempt
func (a *AuditLogger) RenderAttempt(requestID string, attempt int, success bool, durationMs int64, errMsg string) {
	eventType := AuditRenderAttempt
	if !success {
		eventType = AuditRenderError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		RequestID:  requestID,
		Attempt:    attempt,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Render attempt %d: %s (success=%v, %dms)", attempt, requestID, success, durationMs),
	})
}

// ValidationResult logs a layout validation verdict
func (a *AuditLogger) ValidationResult(requestID string, attempt int, passed bool, criticals, warnings int) {
	eventType := AuditValidationPass
	if !passed {
		eventType = AuditValidationFail
	}
	a.Log(AuditEvent{
		EventType: eventType,
		RequestID: requestID,
		Attempt:   attempt,
		Success:   passed,
		Fields: map[string]interface{}{
			"criticals": criticals,
			"warnings":  warnings,
		},
		Message: fmt.Sprintf("Validation attempt %d: passed=%v (%d critical, %d warning)", attempt, passed, criticals, warnings),
	})
}

// RegenTransition logs a regeneration state machine transition
func (a *AuditLogger) RegenTransition(requestID, from, to, reason string) {
	a.Log(AuditEvent{
		EventType: AuditRegenTransition,
		RequestID: requestID,
		Target:    to,
		Success:   true,
		Fields:    map[string]interface{}{"from": from, "reason": reason},
		Message:   fmt.Sprintf("Regen: %s -> %s (%s)", from, to, reason),
	})
}

// LLMCall logs an LLM API call
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditLLMResponse,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": tokens},
		Message:    fmt.Sprintf("LLM call: %s -> %d tokens (%dms, success=%v)", model, tokens, durationMs, success),
	})
}

// DatasetLoad logs a dataset load
func (a *AuditLogger) DatasetLoad(path string, rows int, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditDatasetLoad,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"rows": rows},
		Message:   fmt.Sprintf("Dataset load: %s (%d rows, success=%v)", path, rows, success),
	})
}

// ArtifactWrite logs an artifact file write
func (a *AuditLogger) ArtifactWrite(path string, size int64, success bool, errMsg string) {
	eventType := AuditArtifactWrite
	if !success {
		eventType = AuditArtifactError
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"size": size},
		Message:   fmt.Sprintf("Artifact write: %s (%d bytes, success=%v)", path, size, success),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (critical=%v)", category, errMsg, critical),
	})
}

// PerfMetric logs a performance metric
func (a *AuditLogger) PerfMetric(operation string, durationMs int64, threshold int64) {
	eventType := AuditPerfMetric
	success := true
	if threshold > 0 && durationMs > threshold {
		eventType = AuditPerfSlow
		success = false
	}
	fields := map[string]interface{}{}
	if threshold > 0 {
		fields["threshold_ms"] = threshold
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     operation,
		DurationMs: durationMs,
		Success:    success,
		Fields:     fields,
		Message:    fmt.Sprintf("Perf: %s took %dms (threshold=%dms)", operation, durationMs, threshold),
	})
}
