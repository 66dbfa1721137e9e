package sideline

import (
	"encoding/json"
	"sort"
	"strconv"
)

type (
	// ConsumerState is an immutable snapshot mapping consumer partitions
	// to offsets. It serves three roles: the inclusive starting bound of
	// a virtual consumer, the inclusive ending bound of a bounded one,
	// and the committed-frontier report of a live one.
	ConsumerState struct {
		offsets map[ConsumerPartition]int64
	}

	// ConsumerStateBuilder accumulates partition offsets and produces an
	// immutable ConsumerState.
	ConsumerStateBuilder struct {
		offsets map[ConsumerPartition]int64
	}
)

// NewConsumerStateBuilder returns an empty builder.
func NewConsumerStateBuilder() *ConsumerStateBuilder {
	return &ConsumerStateBuilder{offsets: make(map[ConsumerPartition]int64)}
}

// WithPartition records the offset for (namespace, partition).
func (b *ConsumerStateBuilder) WithPartition(namespace string, partition int32, offset int64) *ConsumerStateBuilder {
	b.offsets[ConsumerPartition{Namespace: namespace, Partition: partition}] = offset
	return b
}

// WithConsumerPartition records the offset for the given partition key.
func (b *ConsumerStateBuilder) WithConsumerPartition(cp ConsumerPartition, offset int64) *ConsumerStateBuilder {
	b.offsets[cp] = offset
	return b
}

// Build copies the accumulated offsets into an immutable state. The
// builder may be reused afterwards without aliasing the built state.
func (b *ConsumerStateBuilder) Build() ConsumerState {
	offsets := make(map[ConsumerPartition]int64, len(b.offsets))
	for cp, off := range b.offsets {
		offsets[cp] = off
	}
	return ConsumerState{offsets: offsets}
}

// Offset returns the offset stored for (namespace, partition).
func (s ConsumerState) Offset(namespace string, partition int32) (int64, bool) {
	return s.OffsetFor(ConsumerPartition{Namespace: namespace, Partition: partition})
}

// OffsetFor returns the offset stored for the given partition key.
func (s ConsumerState) OffsetFor(cp ConsumerPartition) (int64, bool) {
	off, ok := s.offsets[cp]
	return off, ok
}

// Partitions returns the partition keys in deterministic order.
func (s ConsumerState) Partitions() []ConsumerPartition {
	out := make([]ConsumerPartition, 0, len(s.offsets))
	for cp := range s.offsets {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

// Len returns the number of partitions in the snapshot.
func (s ConsumerState) Len() int {
	return len(s.offsets)
}

// IsEmpty reports whether the snapshot holds no partitions.
func (s ConsumerState) IsEmpty() bool {
	return len(s.offsets) == 0
}

// MarshalJSON encodes the state as {namespace: {partition: offset}} so it
// can be stored as a readable node body in the persistence layer.
func (s ConsumerState) MarshalJSON() ([]byte, error) {
	doc := make(map[string]map[string]int64)
	for cp, off := range s.offsets {
		ns, ok := doc[cp.Namespace]
		if !ok {
			ns = make(map[string]int64)
			doc[cp.Namespace] = ns
		}
		ns[strconv.Itoa(int(cp.Partition))] = off
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the layout produced by MarshalJSON.
func (s *ConsumerState) UnmarshalJSON(data []byte) error {
	doc := make(map[string]map[string]int64)
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	b := NewConsumerStateBuilder()
	for namespace, partitions := range doc {
		for p, off := range partitions {
			id, err := strconv.ParseInt(p, 10, 32)
			if err != nil {
				return err
			}
			b.WithPartition(namespace, int32(id), off)
		}
	}
	*s = b.Build()
	return nil
}
