// Package serde provides the built-in deserializers, registered under
// the names "utf8" and "json".
package serde

import (
	"encoding/json"

	"github.com/spoutworks/sideline-client/sideline"
)

func init() {
	sideline.RegisterDeserializer("utf8", func() sideline.Deserializer {
		return &Utf8{}
	})
	sideline.RegisterDeserializer("json", func() sideline.Deserializer {
		return &JSON{}
	})
}

// Utf8 emits [key, value] as strings.
type Utf8 struct{}

// Deserialize implements sideline.Deserializer.
func (d *Utf8) Deserialize(namespace string, partition int32, offset int64, key []byte, value []byte) []interface{} {
	if value == nil {
		return nil
	}
	return []interface{}{string(key), string(value)}
}

// JSON emits [key, document] with the value decoded as a generic JSON
// document. Malformed values are not emittable.
type JSON struct{}

// Deserialize implements sideline.Deserializer.
func (d *JSON) Deserialize(namespace string, partition int32, offset int64, key []byte, value []byte) []interface{} {
	if value == nil {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil
	}
	return []interface{}{string(key), doc}
}
