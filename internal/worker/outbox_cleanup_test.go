package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

func TestOutboxCleanup(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	m := metrics.NewNop()

	processed := &model.OutboxEvent{ID: uuid.New(), EventType: "appointment.created", Payload: json.RawMessage(`{}`)}
	pending := &model.OutboxEvent{ID: uuid.New(), EventType: "appointment.created", Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Create(ctx, processed))
	require.NoError(t, repo.Create(ctx, pending))
	require.NoError(t, repo.MarkProcessed(ctx, processed.ID))

	w := NewOutboxCleanupWorker(repo, time.Hour, time.Minute, logger.Nop(), m)

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "inside the retention window")

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxCleaned))

	events := memory.Events(repo)
	require.Len(t, events, 1)
	assert.Equal(t, pending.ID, events[0].ID)
}
