package audit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/realleaders/portal/pkg/contextkeys"
	"github.com/realleaders/portal/pkg/middleware"
	"github.com/realleaders/portal/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log writes one event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the underlying sink
	Close() error
}

// NewEvent builds an event populated from the request: ids from the
// request context, client address, user agent, method and path.
func NewEvent(r *http.Request, eventType EventType, status EventStatus) *Event {
	ev := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
	if r == nil {
		return ev
	}

	ctx := r.Context()
	ev.ClientID = contextkeys.ClientID(ctx)
	ev.TabID = contextkeys.TabID(ctx)
	ev.RequestID = observability.GetRequestID(ctx)
	ev.IPAddress = middleware.ClientIP(r)
	ev.UserAgent = r.UserAgent()
	ev.Method = r.Method
	ev.Path = r.URL.Path
	return ev
}

// WithError records err on the event and returns it
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// NewNopLogger returns a logger that discards every event
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) Close() error                      { return nil }

// MultiLogger fans events out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to every given logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes the event to every logger; one failing sink does not stop the others
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogrusLogger mirrors audit events into the structured application log
type LogrusLogger struct {
	logger *observability.Logger
}

// NewLogrusLogger creates a logger writing events at info level
func NewLogrusLogger(logger *observability.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger.WithField("component", "audit")}
}

// Log writes the event as a structured log line
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.TabID != "" {
		fields["tab_id"] = event.TabID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error { return nil }
