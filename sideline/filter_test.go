package sideline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(offset int64) Message {
	return Message{
		ID:     MessageID{Namespace: "events", Partition: 0, Offset: offset, ConsumerID: "fh"},
		Values: []interface{}{"k", "v"},
	}
}

func TestFilterChainShortCircuits(t *testing.T) {
	var secondCalled bool
	chain := NewFilterChain()
	chain.AddStep("a", FilterFunc(func(m Message) bool { return m.ID.Offset == 5 }))
	chain.AddStep("b", FilterFunc(func(m Message) bool {
		secondCalled = true
		return false
	}))

	assert.True(t, chain.Filter(testMessage(5)))
	assert.False(t, secondCalled)

	assert.False(t, chain.Filter(testMessage(6)))
	assert.True(t, secondCalled)
}

func TestFilterChainEmptyPassesEverything(t *testing.T) {
	chain := NewFilterChain()
	assert.False(t, chain.Filter(testMessage(1)))
	assert.Zero(t, chain.Len())
}

func TestFilterChainAddRemove(t *testing.T) {
	chain := NewFilterChain()
	step := FilterFunc(func(m Message) bool { return true })
	chain.AddStep("req-1", step)
	require.Equal(t, 1, chain.Len())
	require.NotNil(t, chain.Step("req-1"))
	assert.True(t, chain.Filter(testMessage(1)))

	// replacing in place keeps one entry
	chain.AddStep("req-1", FilterFunc(func(m Message) bool { return false }))
	require.Equal(t, 1, chain.Len())
	assert.False(t, chain.Filter(testMessage(1)))

	removed := chain.RemoveStep("req-1")
	require.NotNil(t, removed)
	assert.Zero(t, chain.Len())
	assert.Nil(t, chain.RemoveStep("req-1"))
	assert.Nil(t, chain.Step("req-1"))
}
