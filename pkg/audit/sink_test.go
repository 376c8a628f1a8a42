package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/setlist/pkg/observability"
)

type recordingSink struct {
	events []*RoleAuditEvent
	err    error
}

func (r *recordingSink) LogRoleChange(ctx context.Context, event *RoleAuditEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func sampleEvent() *RoleAuditEvent {
	return &RoleAuditEvent{
		ActorID:   "ext_admin",
		TargetID:  "ext_target",
		OldRole:   "user",
		NewRole:   "support",
		Reason:    "on-call rotation",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(observability.NewLogger(observability.InfoLevel, &buf))

	require.NoError(t, sink.LogRoleChange(context.Background(), sampleEvent()))

	out := buf.String()
	assert.Contains(t, out, `"audit":"role_change"`)
	assert.Contains(t, out, `"target_id":"ext_target"`)
	assert.Contains(t, out, `"new_role":"support"`)
	assert.Contains(t, out, "on-call rotation")
}

func TestMultiSink_AttemptsAllSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}

	err := NewMultiSink(failing, healthy, NoopSink{}).LogRoleChange(context.Background(), sampleEvent())

	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, failing.events, 1)
	assert.Len(t, healthy.events, 1)
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, NewMultiSink().LogRoleChange(context.Background(), sampleEvent()))
}
