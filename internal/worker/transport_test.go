package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/worker"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, worker.IsTransient(worker.Transient(base)))
	assert.False(t, worker.IsTransient(worker.Permanent(base)))
	assert.True(t, worker.IsTransient(base), "unclassified errors default to retryable")

	assert.ErrorIs(t, worker.Transient(base), base)
	assert.ErrorIs(t, worker.Permanent(base), base)
	assert.Nil(t, worker.Transient(nil))
	assert.Nil(t, worker.Permanent(nil))
}

func TestSimulatedTransport(t *testing.T) {
	tr := worker.NewSimulatedTransport()
	res, err := tr.Send(context.Background(), &worker.Message{Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, int64(1), tr.Sent())
	assert.Equal(t, "simulated", tr.Name())
}
