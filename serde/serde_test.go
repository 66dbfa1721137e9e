package serde

import (
	"testing"

	"github.com/spoutworks/sideline-client/sideline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtf8Deserialize(t *testing.T) {
	d := &Utf8{}
	values := d.Deserialize("events", 0, 1, []byte("k"), []byte("v"))
	assert.Equal(t, []interface{}{"k", "v"}, values)

	assert.Nil(t, d.Deserialize("events", 0, 1, []byte("k"), nil))

	// a missing key still yields a two-element tuple
	values = d.Deserialize("events", 0, 1, nil, []byte("v"))
	assert.Equal(t, []interface{}{"", "v"}, values)
}

func TestJSONDeserialize(t *testing.T) {
	d := &JSON{}
	values := d.Deserialize("events", 0, 1, []byte("k"), []byte(`{"n":1}`))
	require.Len(t, values, 2)
	assert.Equal(t, "k", values[0])
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, values[1])

	assert.Nil(t, d.Deserialize("events", 0, 1, []byte("k"), []byte("{not json")))
	assert.Nil(t, d.Deserialize("events", 0, 1, []byte("k"), nil))
}

func TestRegisteredDeserializers(t *testing.T) {
	utf8, err := sideline.NewDeserializer("utf8")
	require.NoError(t, err)
	assert.IsType(t, &Utf8{}, utf8)

	jsonSerde, err := sideline.NewDeserializer("json")
	require.NoError(t, err)
	assert.IsType(t, &JSON{}, jsonSerde)
}
