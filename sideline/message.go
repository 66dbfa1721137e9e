// Package sideline defines the public types and pluggable collaborator
// contracts of the sidelineable stream-consumption engine. A virtual
// consumer pulls records from a partitioned, offset-addressed log, applies
// a filter chain, and delivers messages downstream with at-least-once
// semantics; bounded consumers replay a previously sidelined slice of the
// stream between a starting and an ending state.
package sideline

import "fmt"

type (
	// Record is a single entry pulled from the log by the log consumer.
	// Values carries the deserialized payload; a nil Values means the
	// entry could not be deserialized and is not emittable.
	Record struct {
		Namespace string
		Partition int32
		Offset    int64
		Values    []interface{}
	}

	// MessageID identifies one emitted message. It doubles as the ack
	// token handed back by the downstream consumer and as the key of the
	// in-flight table. Equality covers all four fields.
	MessageID struct {
		Namespace  string
		Partition  int32
		Offset     int64
		ConsumerID string
	}

	// Message is the unit emitted downstream. It stays owned by the
	// virtual consumer's in-flight table until acked or terminally failed.
	Message struct {
		ID     MessageID
		Values []interface{}
	}
)

func (id MessageID) String() string {
	return fmt.Sprintf("%s-%d:%d@%s", id.Namespace, id.Partition, id.Offset, id.ConsumerID)
}

// ConsumerPartition names one shard of a namespace.
type ConsumerPartition struct {
	Namespace string
	Partition int32
}

func (cp ConsumerPartition) String() string {
	return fmt.Sprintf("%s-%d", cp.Namespace, cp.Partition)
}
