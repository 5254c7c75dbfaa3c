package security

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.output = log.New(&buf, "", 0)
	return logger, &buf
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, buf := captureLogger()

	logger.Info("Test message")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Errorf("Log output is not valid JSON: %v", err)
	}

	if entry.Message != "Test message" {
		t.Errorf("Expected message 'Test message', got %q", entry.Message)
	}
	if entry.Level != LogLevelInfo {
		t.Errorf("Expected level INFO, got %q", entry.Level)
	}
	if entry.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		logFunc  func(*Logger, string)
		expected LogLevel
	}{
		{"Info", func(l *Logger, m string) { l.Info(m) }, LogLevelInfo},
		{"Warn", func(l *Logger, m string) { l.Warn(m) }, LogLevelWarning},
		{"Error", func(l *Logger, m string) { l.Error(m, nil) }, LogLevelError},
		{"Critical", func(l *Logger, m string) { l.Critical(m, nil) }, LogLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()

			tt.logFunc(logger, "test message")

			var entry LogEntry
			json.Unmarshal(buf.Bytes(), &entry)

			if entry.Level != tt.expected {
				t.Errorf("Expected level %q, got %q", tt.expected, entry.Level)
			}
		})
	}
}

func TestLogger_SecurityEvent(t *testing.T) {
	logger, buf := captureLogger()

	actorID := 123
	extra := map[string]interface{}{
		"site_id": 456,
		"pc_uid":  "0123456789abcdef0123456789abcdef",
	}

	logger.SecurityEvent(
		EventCrossSiteEvent,
		&actorID,
		"admin@example.com",
		"192.168.1.100",
		"os2borgerpc-client/1.0",
		extra,
	)

	var entry LogEntry
	json.Unmarshal(buf.Bytes(), &entry)

	if entry.Level != LogLevelSecurity {
		t.Errorf("Expected SECURITY level, got %q", entry.Level)
	}
	if entry.EventType != EventCrossSiteEvent {
		t.Errorf("Expected event type %q, got %q", EventCrossSiteEvent, entry.EventType)
	}
	if entry.ActorID == nil || *entry.ActorID != 123 {
		t.Errorf("Expected actor_id 123, got %v", entry.ActorID)
	}
	if entry.ActorEmail != "admin@example.com" {
		t.Errorf("Expected actor_email admin@example.com, got %q", entry.ActorEmail)
	}
	if entry.IPAddress != "192.168.1.100" {
		t.Errorf("Expected ip_address 192.168.1.100, got %q", entry.IPAddress)
	}
	if entry.Extra["site_id"] != float64(456) { // JSON unmarshals numbers as float64
		t.Errorf("Expected extra.site_id 456, got %v", entry.Extra["site_id"])
	}
}

func TestLogger_HTTPRequest(t *testing.T) {
	logger, buf := captureLogger()

	logger.HTTPRequest(
		"POST",
		"/api/system/get_instructions",
		200,
		245,
		"192.168.1.100",
		"os2borgerpc-client/1.0",
	)

	var entry LogEntry
	json.Unmarshal(buf.Bytes(), &entry)

	if entry.Method != "POST" {
		t.Errorf("Expected method POST, got %q", entry.Method)
	}
	if entry.Path != "/api/system/get_instructions" {
		t.Errorf("Expected instruction path, got %q", entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("Expected status 200, got %d", entry.Status)
	}
	if entry.LatencyMS != 245 {
		t.Errorf("Expected latency 245ms, got %d", entry.LatencyMS)
	}
	if !strings.Contains(entry.Message, "POST") || !strings.Contains(entry.Message, "200") {
		t.Error("Message should contain method and status")
	}
}

func TestLogger_ErrorWithException(t *testing.T) {
	logger, buf := captureLogger()

	testErr := &customError{"database connection failed"}
	logger.Error("Failed to connect", testErr)

	var entry LogEntry
	json.Unmarshal(buf.Bytes(), &entry)

	if entry.Error != "database connection failed" {
		t.Errorf("Expected error message, got %q", entry.Error)
	}
}

type customError struct {
	message string
}

func (e *customError) Error() string {
	return e.message
}

type mockAlerter struct {
	alerts []mockAlert
}

type mockAlert struct {
	severity string
	title    string
	message  string
}

func (m *mockAlerter) SendAlert(ctx context.Context, severity, title, message string) error {
	m.alerts = append(m.alerts, mockAlert{severity, title, message})
	return nil
}

func TestSecurityMonitor_AuthFailures(t *testing.T) {
	logger, _ := captureLogger()

	config := DefaultSecurityConfig()
	config.AlertThresholdFailures = 3

	alerter := &mockAlerter{}
	monitor := NewSecurityMonitor(logger, config, alerter)

	ipAddress := "192.168.1.100"

	monitor.MonitorAuthFailure(ipAddress)
	monitor.MonitorAuthFailure(ipAddress)

	if len(alerter.alerts) != 0 {
		t.Error("Should not alert below threshold")
	}

	monitor.MonitorAuthFailure(ipAddress)

	if len(alerter.alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerter.alerts))
	}

	alert := alerter.alerts[0]
	if alert.severity != "HIGH" {
		t.Errorf("Expected HIGH severity, got %q", alert.severity)
	}
	if !strings.Contains(alert.message, ipAddress) {
		t.Error("Alert message should contain IP address")
	}
}

func TestSecurityMonitor_EventFlood(t *testing.T) {
	logger, _ := captureLogger()

	config := DefaultSecurityConfig()
	config.AlertThresholdEvents = 100

	alerter := &mockAlerter{}
	monitor := NewSecurityMonitor(logger, config, alerter)

	monitor.MonitorEventFlood("abc123", 50)

	if len(alerter.alerts) != 0 {
		t.Error("Should not alert below threshold")
	}

	monitor.MonitorEventFlood("abc123", 75)

	if len(alerter.alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerter.alerts))
	}

	alert := alerter.alerts[0]
	if alert.severity != "MEDIUM" {
		t.Errorf("Expected MEDIUM severity, got %q", alert.severity)
	}
	if !strings.Contains(alert.message, "abc123") {
		t.Error("Alert message should name the PC")
	}

	// Crossing the threshold alerts once, not on every subsequent batch.
	monitor.MonitorEventFlood("abc123", 10)
	if len(alerter.alerts) != 1 {
		t.Errorf("Expected still 1 alert, got %d", len(alerter.alerts))
	}
}

func TestSecurityMonitor_ResetCounters(t *testing.T) {
	logger, _ := captureLogger()

	config := DefaultSecurityConfig()
	alerter := &mockAlerter{}
	monitor := NewSecurityMonitor(logger, config, alerter)

	monitor.MonitorAuthFailure("192.168.1.100")
	monitor.MonitorAuthFailure("192.168.1.100")

	if monitor.failedAuth["192.168.1.100"] != 2 {
		t.Errorf("Expected 2 failures, got %d", monitor.failedAuth["192.168.1.100"])
	}

	// Inside the reset interval nothing is cleared.
	monitor.ResetCounters()
	if monitor.failedAuth["192.168.1.100"] != 2 {
		t.Error("Counters should not reset before the interval elapses")
	}

	monitor.lastReset = monitor.lastReset.Add(-2 * monitor.resetEvery)
	monitor.ResetCounters()
	if len(monitor.failedAuth) != 0 {
		t.Error("Counters should reset after the interval elapses")
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := NewLogger()
	logger.output = log.New(&bytes.Buffer{}, "", 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("Benchmark test message")
	}
}
