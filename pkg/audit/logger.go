package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/dealflow/pkg/contextkeys"
)

// Sink is a destination for audit events
type Sink interface {
	// Log writes an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the sink
	Close() error
}

// Logger is the interface services record audit events through
type Logger interface {
	Sink

	// LogAuthentication logs a login, logout or registration
	LogAuthentication(ctx context.Context, eventType EventType, userID *int64, email string, status EventStatus, message string) error

	// LogAuthorization logs an authorization decision worth keeping, usually a denial
	LogAuthorization(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// LogDataMutation logs a change to tenant or reference data
	LogDataMutation(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// LogAdminAction logs an action one user took against another
	LogAdminAction(ctx context.Context, eventType EventType, adminUserID *int64, targetUserID *int64, message string) error
}

// NopLogger returns a logger with no sinks
func NopLogger() Logger {
	return NewMultiLogger()
}

// buildBaseEvent creates an audit event with the request context populated
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		IPAddress: contextkeys.GetClientIP(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}
