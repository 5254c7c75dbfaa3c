// Package security provides security utilities for the OS2borgerPC admin
// backend: structured JSON logging, rate limiting, input validation,
// and security monitoring with alerting.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelSecurity LogLevel = "SECURITY"
)

// SecurityEventType identifies an auditable security event.
type SecurityEventType string

const (
	EventAPIKeyDenied          SecurityEventType = "apikey_denied"
	EventAPIKeyCreated         SecurityEventType = "apikey_created"
	EventAPIKeyRevoked         SecurityEventType = "apikey_revoked"
	EventUnauthorizedAccess    SecurityEventType = "unauthorized_access"
	EventPCRegistered          SecurityEventType = "pc_registered"
	EventDuplicateRegistration SecurityEventType = "duplicate_registration"
	EventCrossSiteEvent        SecurityEventType = "cross_site_event"
	EventCitizenLoginFailure   SecurityEventType = "citizen_login_failure"
	EventRateLimitExceeded     SecurityEventType = "rate_limit_exceeded"
	EventOfflineSweepSkipped   SecurityEventType = "offline_sweep_skipped"
	EventRetentionCleanup      SecurityEventType = "retention_cleanup"
)

// LogEntry is a single structured log line, serialized as JSON.
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Message    string                 `json:"message"`
	EventType  SecurityEventType      `json:"event_type,omitempty"`
	ActorID    *int                   `json:"actor_id,omitempty"`
	ActorEmail string                 `json:"actor_email,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Status     int                    `json:"status,omitempty"`
	LatencyMS  int64                  `json:"latency_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Logger writes structured JSON log lines. The output field is exported
// within the package so tests can capture entries in a buffer.
type Logger struct {
	output *log.Logger
}

// NewLogger creates a Logger writing to stdout.
func NewLogger() *Logger {
	return &Logger{
		output: log.New(os.Stdout, "", 0),
	}
}

func (l *Logger) write(entry LogEntry) {
	entry.Timestamp = time.Now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		// Fall back to plain text rather than dropping the entry.
		l.output.Printf(`{"timestamp":%q,"level":"ERROR","message":"log marshal failed: %s"}`,
			entry.Timestamp.Format(time.RFC3339), err)
		return
	}
	l.output.Println(string(data))
}

// Info logs an informational message.
func (l *Logger) Info(message string) {
	l.write(LogEntry{Level: LogLevelInfo, Message: message})
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string) {
	l.write(LogEntry{Level: LogLevelWarning, Message: message})
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message with an optional underlying error.
func (l *Logger) Error(message string, err error) {
	entry := LogEntry{Level: LogLevelError, Message: message}
	if err != nil {
		entry.Error = err.Error()
	}
	l.write(entry)
}

// Critical logs a critical message with an optional underlying error.
func (l *Logger) Critical(message string, err error) {
	entry := LogEntry{Level: LogLevelCritical, Message: message}
	if err != nil {
		entry.Error = err.Error()
	}
	l.write(entry)
}

// SecurityEvent logs an auditable security event with actor and request
// context. Extra carries event-specific fields (site ids, rule ids, PC uids).
func (l *Logger) SecurityEvent(eventType SecurityEventType, actorID *int, actorEmail, ipAddress, userAgent string, extra map[string]interface{}) {
	l.write(LogEntry{
		Level:      LogLevelSecurity,
		Message:    fmt.Sprintf("security event: %s", eventType),
		EventType:  eventType,
		ActorID:    actorID,
		ActorEmail: actorEmail,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Extra:      extra,
	})
}

// HTTPRequest logs one completed HTTP request.
func (l *Logger) HTTPRequest(method, path string, status int, latencyMS int64, ipAddress, userAgent string) {
	l.write(LogEntry{
		Level:     LogLevelInfo,
		Message:   fmt.Sprintf("%s %s %d (%dms)", method, path, status, latencyMS),
		Method:    method,
		Path:      path,
		Status:    status,
		LatencyMS: latencyMS,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
}

// Alerter delivers out-of-band alerts raised by the SecurityMonitor.
type Alerter interface {
	SendAlert(ctx context.Context, severity, title, message string) error
}

// LogAlerter is the default Alerter: it writes alerts through the Logger.
type LogAlerter struct {
	Logger *Logger
}

// SendAlert logs the alert at critical level.
func (a *LogAlerter) SendAlert(_ context.Context, severity, title, message string) error {
	a.Logger.Critical(fmt.Sprintf("ALERT [%s] %s: %s", severity, title, message), nil)
	return nil
}

// SecurityMonitor tracks repeated authentication failures and event-ingest
// floods, alerting when thresholds are crossed. Counters reset on a fixed
// interval.
type SecurityMonitor struct {
	mu          sync.Mutex
	logger      *Logger
	config      *SecurityConfig
	alerter     Alerter
	failedAuth  map[string]int // keyed by IP address
	eventVolume map[string]int // keyed by PC uid
	lastReset   time.Time
	resetEvery  time.Duration
}

// NewSecurityMonitor creates a monitor with the given configuration.
func NewSecurityMonitor(logger *Logger, config *SecurityConfig, alerter Alerter) *SecurityMonitor {
	return &SecurityMonitor{
		logger:      logger,
		config:      config,
		alerter:     alerter,
		failedAuth:  make(map[string]int),
		eventVolume: make(map[string]int),
		lastReset:   time.Now(),
		resetEvery:  time.Hour,
	}
}

// MonitorAuthFailure records one failed API-key or credential check from
// the given IP and alerts once the failure threshold is reached.
func (m *SecurityMonitor) MonitorAuthFailure(ipAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failedAuth[ipAddress]++
	count := m.failedAuth[ipAddress]

	if count == m.config.AlertThresholdFailures {
		_ = m.alerter.SendAlert(context.Background(), "HIGH",
			"Repeated authentication failures",
			fmt.Sprintf("%d failed authentication attempts from %s", count, ipAddress))
	}
}

// MonitorEventFlood records the size of one security-event batch from a PC
// and alerts when a single PC pushes an unusually large volume.
func (m *SecurityMonitor) MonitorEventFlood(pcUID string, batchSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventVolume[pcUID] += batchSize

	if m.eventVolume[pcUID] >= m.config.AlertThresholdEvents && m.eventVolume[pcUID]-batchSize < m.config.AlertThresholdEvents {
		_ = m.alerter.SendAlert(context.Background(), "MEDIUM",
			"Security event flood",
			fmt.Sprintf("PC %s pushed %d security events within the monitoring window", pcUID, m.eventVolume[pcUID]))
	}
}

// ResetCounters clears the failure and volume counters once the reset
// interval has elapsed. Safe to call on every request.
func (m *SecurityMonitor) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastReset) < m.resetEvery {
		return
	}

	m.failedAuth = make(map[string]int)
	m.eventVolume = make(map[string]int)
	m.lastReset = time.Now()
}
