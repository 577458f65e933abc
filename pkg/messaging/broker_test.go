package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/pkg/logger"
)

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	b := NewLocalBroker(logger.Nop())
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "clinic.appointment.created")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "clinic.appointment.created", []byte(`{"a":1}`)))
	require.NoError(t, b.Publish(ctx, "clinic.other", []byte(`{}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"a":1}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s", msg)
	default:
	}

	require.NoError(t, b.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.Error(t, b.Publish(ctx, "x", nil))
}
