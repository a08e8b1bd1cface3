package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusgate/internal/iam"
)

// Logger emits append-only audit events for security-relevant actions. Events
// go to the structured log and, when a store is attached, to the persistent
// audit table as well.
type Logger struct {
	log   *zap.SugaredLogger
	store iam.AuditStore
}

// New constructs an audit Logger. The store may be nil; events are then only
// logged.
func New(log *zap.SugaredLogger, store iam.AuditStore) *Logger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Logger{log: log, store: store}
}

// Event records an auditable action enriched with request and actor context.
func (l *Logger) Event(ctx context.Context, action, resourceType, resourceID string, metadata map[string]string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit: action is required")
	}
	entry := iam.AuditEntry{
		OccurredAt:   time.Now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		RequestID:    RequestIDFromContext(ctx),
	}
	if principal, ok := iam.PrincipalFromContext(ctx); ok {
		entry.ActorUserID = principal.User.ID
	}

	fields := []any{
		"type", "audit",
		"event", entry.Action,
	}
	if entry.ActorUserID != "" {
		fields = append(fields, "actor", entry.ActorUserID)
	}
	if entry.RequestID != "" {
		fields = append(fields, "request_id", entry.RequestID)
	}
	if entry.ResourceType != "" {
		fields = append(fields, "resource", entry.ResourceType+"/"+entry.ResourceID)
	}
	for k, v := range metadata {
		fields = append(fields, k, v)
	}
	l.log.Infow("audit_event", fields...)

	if l.store == nil {
		return nil
	}
	return l.store.Append(ctx, &entry)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
