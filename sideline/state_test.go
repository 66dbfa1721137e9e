package sideline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerStateBuilder(t *testing.T) {
	b := NewConsumerStateBuilder().
		WithPartition("events", 0, 10).
		WithPartition("events", 2, 20)
	state := b.Build()

	off, ok := state.Offset("events", 0)
	require.True(t, ok)
	assert.Equal(t, int64(10), off)
	_, ok = state.Offset("events", 1)
	assert.False(t, ok)
	assert.Equal(t, 2, state.Len())
	assert.False(t, state.IsEmpty())

	// mutating the builder afterwards must not alias the built state
	b.WithPartition("events", 0, 99)
	off, _ = state.Offset("events", 0)
	assert.Equal(t, int64(10), off)
}

func TestConsumerStatePartitionsSorted(t *testing.T) {
	state := NewConsumerStateBuilder().
		WithPartition("b", 1, 1).
		WithPartition("a", 2, 2).
		WithPartition("a", 0, 3).
		Build()
	assert.Equal(t, []ConsumerPartition{
		{Namespace: "a", Partition: 0},
		{Namespace: "a", Partition: 2},
		{Namespace: "b", Partition: 1},
	}, state.Partitions())
}

func TestConsumerStateJSONRoundTrip(t *testing.T) {
	state := NewConsumerStateBuilder().
		WithPartition("events", 0, 10).
		WithPartition("events", 3, -1).
		WithPartition("audit", 1, 7).
		Build()

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded ConsumerState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, state.Partitions(), decoded.Partitions())
	for _, cp := range state.Partitions() {
		want, _ := state.OffsetFor(cp)
		got, ok := decoded.OffsetFor(cp)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestMessageIDString(t *testing.T) {
	id := MessageID{Namespace: "events", Partition: 2, Offset: 31, ConsumerID: "fh"}
	assert.Equal(t, "events-2:31@fh", id.String())
}
