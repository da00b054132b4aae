package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestTopicAndClientNaming(t *testing.T) {
	bus, err := New(Options{
		Brokers:  []string{"localhost:9092"},
		NodeID:   7,
		WorkerID: 2,
	})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	assert.Equal(t, "schemat.node.7", bus.Topic(7))
	assert.Equal(t, "node-7-worker-2", bus.ClientID())
}

func TestClosedBusRejectsUse(t *testing.T) {
	bus, err := New(Options{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "closing twice is a no-op")

	assert.Error(t, bus.Publish(context.Background(), 1, []byte("x")))
	_, err = bus.Subscribe(1, func([]byte) {})
	assert.Error(t, err)
}
