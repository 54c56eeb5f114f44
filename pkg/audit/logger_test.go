package audit

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realleaders/portal/pkg/contextkeys"
	"github.com/realleaders/portal/pkg/observability"
)

type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (l *recordingLogger) Log(_ context.Context, ev *Event) error {
	l.events = append(l.events, ev)
	return l.err
}

func (l *recordingLogger) Close() error {
	l.closed = true
	return l.err
}

func TestNewEvent_FromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")
	ctx := contextkeys.WithClientID(req.Context(), "client-1")
	ctx = contextkeys.WithTabID(ctx, "tab-1")
	ctx = observability.WithRequestID(ctx, "req-1")
	req = req.WithContext(ctx)

	ev := NewEvent(req, EventTypeLoginFailed, EventStatusFailure).WithError(errors.New("bad password"))

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "client-1", ev.ClientID)
	assert.Equal(t, "tab-1", ev.TabID)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "203.0.113.9", ev.IPAddress)
	assert.Equal(t, "test-agent", ev.UserAgent)
	assert.Equal(t, "POST", ev.Method)
	assert.Equal(t, "/login", ev.Path)
	assert.Equal(t, "bad password", ev.ErrorMessage)
}

func TestMultiLogger(t *testing.T) {
	ok := &recordingLogger{}
	failing := &recordingLogger{err: errors.New("disk full")}
	m := NewMultiLogger(failing, ok)

	ev := NewEvent(nil, EventTypeLogout, EventStatusSuccess)
	err := m.Log(context.Background(), ev)
	assert.ErrorContains(t, err, "disk full")
	require.Len(t, ok.events, 1)
	assert.Same(t, ev, ok.events[0])

	assert.Error(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(observability.NewLogger(observability.InfoLevel, &buf))

	userID := int64(7)
	ev := NewEvent(nil, EventTypeLogin, EventStatusSuccess)
	ev.UserID = &userID
	ev.Username = "jane"
	ev.Message = "signed in"
	require.NoError(t, logger.Log(context.Background(), ev))

	out := buf.String()
	assert.Contains(t, out, `"event_type":"auth.login"`)
	assert.Contains(t, out, `"username":"jane"`)
	assert.Contains(t, out, `"component":"audit"`)
	assert.Contains(t, out, "signed in")
	assert.NoError(t, logger.Close())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NoError(t, l.Log(context.Background(), NewEvent(nil, EventTypeLogin, EventStatusSuccess)))
	assert.NoError(t, l.Close())
}
