// Copyright (c) 2017 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/spoutworks/sideline-client/sideline"
	"go.uber.org/atomic"
)

type (
	// mockKafkaConsumer stands in for the sarama consumer: a fixed set
	// of partitions fed through channels.
	mockKafkaConsumer struct {
		sync.Mutex
		partitions map[int32]*mockPartitionConsumer
		seeks      map[int32]int64
		closed     *atomic.Bool
	}

	// mockPartitionConsumer feeds scripted messages for one partition.
	mockPartitionConsumer struct {
		id     int32
		topic  string
		msgC   chan *sarama.ConsumerMessage
		hwm    *atomic.Int64
		closed *atomic.Bool
	}

	// mockLogConsumer stands in for the whole log consumer when testing
	// the virtual consumer in isolation. Records are served from a
	// scripted queue; the committed frontier mirrors the production
	// bookkeeping.
	mockLogConsumer struct {
		mu           sync.Mutex
		records      []*sideline.Record
		committed    map[sideline.ConsumerPartition]int64
		unsubscribed map[sideline.ConsumerPartition]bool
		flushed      []sideline.ConsumerState
		removed      bool
		opened       bool
		closed       bool
		lag          float64
	}
)

func newMockKafkaConsumer() *mockKafkaConsumer {
	return &mockKafkaConsumer{
		partitions: make(map[int32]*mockPartitionConsumer),
		seeks:      make(map[int32]int64),
		closed:     atomic.NewBool(false),
	}
}

func (m *mockKafkaConsumer) addPartition(pc *mockPartitionConsumer) {
	m.Lock()
	m.partitions[pc.id] = pc
	m.Unlock()
}

func (m *mockKafkaConsumer) Partitions(topic string) ([]int32, error) {
	m.Lock()
	defer m.Unlock()
	var ids []int32
	for id := range m.partitions {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	return ids, nil
}

func (m *mockKafkaConsumer) ConsumePartition(topic string, partition int32, offset int64) (kafkaPartitionConsumer, error) {
	m.Lock()
	defer m.Unlock()
	pc, ok := m.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("no such partition %v", partition)
	}
	m.seeks[partition] = offset
	return pc, nil
}

func (m *mockKafkaConsumer) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockKafkaConsumer) seekFor(partition int32) int64 {
	m.Lock()
	defer m.Unlock()
	return m.seeks[partition]
}

func newMockPartitionConsumer(topic string, id int32, rcvBufSize int) *mockPartitionConsumer {
	return &mockPartitionConsumer{
		id:     id,
		topic:  topic,
		msgC:   make(chan *sarama.ConsumerMessage, rcvBufSize),
		hwm:    atomic.NewInt64(0),
		closed: atomic.NewBool(false),
	}
}

func (m *mockPartitionConsumer) sendMsg(offset int64) {
	m.msgC <- &sarama.ConsumerMessage{
		Topic:     m.topic,
		Partition: m.id,
		Key:       []byte(fmt.Sprintf("key-%v", offset)),
		Value:     []byte(fmt.Sprintf("msg-%v", offset)),
		Offset:    offset,
		Timestamp: time.Now(),
	}
	if offset+1 > m.hwm.Load() {
		m.hwm.Store(offset + 1)
	}
}

func (m *mockPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return m.msgC
}

func (m *mockPartitionConsumer) HighWaterMarkOffset() int64 {
	return m.hwm.Load()
}

func (m *mockPartitionConsumer) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockPartitionConsumer) isClosed() bool {
	return m.closed.Load()
}

func newMockLogConsumer() *mockLogConsumer {
	return &mockLogConsumer{
		committed:    make(map[sideline.ConsumerPartition]int64),
		unsubscribed: make(map[sideline.ConsumerPartition]bool),
	}
}

// seed registers a live partition with the given frontier; -1 means
// nothing committed yet.
func (m *mockLogConsumer) seed(cp sideline.ConsumerPartition, frontier int64) {
	m.mu.Lock()
	m.committed[cp] = frontier
	m.mu.Unlock()
}

func (m *mockLogConsumer) feed(namespace string, partition int32, offsets ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, off := range offsets {
		m.records = append(m.records, &sideline.Record{
			Namespace: namespace,
			Partition: partition,
			Offset:    off,
			Values:    []interface{}{fmt.Sprintf("key-%v", off), fmt.Sprintf("msg-%v", off)},
		})
	}
}

func (m *mockLogConsumer) feedRecord(r *sideline.Record) {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

func (m *mockLogConsumer) Open(cfg sideline.Config, persistence sideline.PersistenceAdapter, deserializer sideline.Deserializer, starting *sideline.ConsumerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	if starting != nil {
		for _, cp := range starting.Partitions() {
			off, _ := starting.OffsetFor(cp)
			m.committed[cp] = off - 1
		}
	}
	return nil
}

func (m *mockLogConsumer) NextRecord() *sideline.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.records) > 0 {
		r := m.records[0]
		m.records = m.records[1:]
		cp := sideline.ConsumerPartition{Namespace: r.Namespace, Partition: r.Partition}
		if m.unsubscribed[cp] {
			continue
		}
		return r
	}
	return nil
}

func (m *mockLogConsumer) CommitOffset(namespace string, partition int32, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sideline.ConsumerPartition{Namespace: namespace, Partition: partition}
	cur, ok := m.committed[cp]
	if !ok || offset <= cur {
		return
	}
	m.committed[cp] = offset
}

func (m *mockLogConsumer) CurrentState() sideline.ConsumerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := sideline.NewConsumerStateBuilder()
	for cp, off := range m.committed {
		b.WithConsumerPartition(cp, off)
	}
	return b.Build()
}

func (m *mockLogConsumer) FlushConsumerState() (sideline.ConsumerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := sideline.NewConsumerStateBuilder()
	for cp, off := range m.committed {
		if off >= 0 {
			b.WithConsumerPartition(cp, off)
		}
	}
	state := b.Build()
	m.flushed = append(m.flushed, state)
	return state, nil
}

func (m *mockLogConsumer) RemoveConsumerState() error {
	m.mu.Lock()
	m.removed = true
	m.mu.Unlock()
	return nil
}

func (m *mockLogConsumer) MaxLag() float64 {
	return m.lag
}

func (m *mockLogConsumer) UnsubscribePartition(cp sideline.ConsumerPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.committed[cp]; !ok {
		return false
	}
	delete(m.committed, cp)
	m.unsubscribed[cp] = true
	return true
}

func (m *mockLogConsumer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockLogConsumer) isUnsubscribed(cp sideline.ConsumerPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribed[cp]
}

func (m *mockLogConsumer) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flushed)
}

func (m *mockLogConsumer) isRemoved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

func (m *mockLogConsumer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
