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
	"math"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/spoutworks/sideline-client/internal/metrics"
	"github.com/spoutworks/sideline-client/sideline"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

type (
	// kafkaConsumer is the subset of the sarama consumer the log
	// consumer relies on.
	kafkaConsumer interface {
		Partitions(topic string) ([]int32, error)
		ConsumePartition(topic string, partition int32, offset int64) (kafkaPartitionConsumer, error)
		Close() error
	}

	// kafkaPartitionConsumer is the subset of the sarama partition
	// consumer the log consumer relies on.
	kafkaPartitionConsumer interface {
		Messages() <-chan *sarama.ConsumerMessage
		HighWaterMarkOffset() int64
		Close() error
	}

	// KafkaLogConsumer wraps the partitioned log client for exactly one
	// virtual consumer. Partitions are split deterministically among
	// peer instances by (totalInstances, instanceIndex); offsets are
	// tracked as a cumulative committed frontier per partition.
	KafkaLogConsumer struct {
		consumerID   string
		topic        string
		dial         func(brokers []string) (kafkaConsumer, error)
		consumer     kafkaConsumer
		deserializer sideline.Deserializer
		persistence  sideline.PersistenceAdapter
		tally        tally.Scope
		logger       *zap.Logger

		mu         sync.Mutex
		partitions map[int32]kafkaPartitionConsumer
		committed  map[int32]int64 // frontier per live partition; before any commit, one below the first offset to read (-1 from the earliest)
		order      []int32         // round-robin poll order
		next       int
	}
)

type saramaAdapter struct {
	consumer sarama.Consumer
}

func (a saramaAdapter) Partitions(topic string) ([]int32, error) {
	return a.consumer.Partitions(topic)
}

func (a saramaAdapter) ConsumePartition(topic string, partition int32, offset int64) (kafkaPartitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaAdapter) Close() error {
	return a.consumer.Close()
}

func saramaDial(brokers []string) (kafkaConsumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	c, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return saramaAdapter{consumer: c}, nil
}

// NewKafkaLogConsumer returns an unopened log consumer owned by the
// virtual consumer with the given id.
func NewKafkaLogConsumer(consumerID string, scope tally.Scope, logger *zap.Logger) *KafkaLogConsumer {
	return &KafkaLogConsumer{
		consumerID: consumerID,
		dial:       saramaDial,
		tally:      scope,
		logger:     logger,
		partitions: make(map[int32]kafkaPartitionConsumer),
		committed:  make(map[int32]int64),
	}
}

// Open dials the brokers and subscribes this instance's share of the
// topic's partitions. A starting state pins the initial seek to its
// offsets (inclusive); otherwise persisted offsets resume one past the
// frontier, and a partition with neither starts at the earliest offset.
func (k *KafkaLogConsumer) Open(cfg sideline.Config, persistence sideline.PersistenceAdapter, deserializer sideline.Deserializer, starting *sideline.ConsumerState) error {
	k.topic = cfg.String(sideline.CfgKafkaTopic, "")
	if k.topic == "" {
		return errors.New("kafka.topic not configured")
	}
	k.persistence = persistence
	k.deserializer = deserializer

	total := cfg.Int(sideline.CfgConsumerTotalInstances, 1)
	if total < 1 {
		total = 1
	}
	index := cfg.Int(sideline.CfgConsumerIndex, 0)

	consumer, err := k.dial(cfg.StringSlice(sideline.CfgKafkaBrokers))
	if err != nil {
		return errors.Wrap(err, "kafka dial failed")
	}
	k.consumer = consumer

	all, err := consumer.Partitions(k.topic)
	if err != nil {
		consumer.Close()
		return errors.Wrapf(err, "list partitions of %s", k.topic)
	}
	persisted, err := persistence.RetrieveConsumerState(k.consumerID)
	if err != nil {
		consumer.Close()
		return errors.Wrapf(err, "retrieve state for %s", k.consumerID)
	}

	for _, p := range assignPartitions(all, total, index) {
		seek := sarama.OffsetOldest
		frontier := int64(-1)
		switch {
		case starting != nil:
			off, ok := starting.Offset(k.topic, p)
			if !ok {
				// starting state names the exact subscription set
				continue
			}
			seek, frontier = off, off-1
		case persisted != nil:
			if off, ok := persisted.Offset(k.topic, p); ok {
				seek, frontier = off+1, off
			}
		}
		pc, err := consumer.ConsumePartition(k.topic, p, seek)
		if err != nil {
			k.closePartitions()
			consumer.Close()
			return errors.Wrapf(err, "consume %s-%d at %d", k.topic, p, seek)
		}
		k.partitions[p] = pc
		k.committed[p] = frontier
		k.order = append(k.order, p)
	}
	k.logger.Info("log consumer opened",
		zap.String("topic", k.topic),
		zap.String("consumer", k.consumerID),
		zap.Int32s("partitions", k.order))
	return nil
}

// NextRecord polls one record from any subscribed partition without
// blocking, rotating across partitions for fairness. Returns nil when
// nothing is immediately available.
func (k *KafkaLogConsumer) NextRecord() *sideline.Record {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := 0; i < len(k.order); i++ {
		k.next = (k.next + 1) % len(k.order)
		p := k.order[k.next]
		select {
		case m, ok := <-k.partitions[p].Messages():
			if !ok {
				continue
			}
			k.tally.Counter(metrics.KafkaMessagesIn).Inc(1)
			return &sideline.Record{
				Namespace: m.Topic,
				Partition: m.Partition,
				Offset:    m.Offset,
				Values:    k.deserializer.Deserialize(m.Topic, m.Partition, m.Offset, m.Key, m.Value),
			}
		default:
		}
	}
	return nil
}

// CommitOffset advances the committed frontier for the partition. The
// frontier is cumulative: commits at or below it are no-ops. Commits for
// partitions no longer subscribed are dropped.
func (k *KafkaLogConsumer) CommitOffset(namespace string, partition int32, offset int64) {
	if namespace != k.topic {
		k.logger.Warn("commit for foreign namespace dropped",
			zap.String("namespace", namespace), zap.String("topic", k.topic))
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, ok := k.committed[partition]
	if !ok || offset <= cur {
		return
	}
	k.committed[partition] = offset
	k.tally.Gauge(metrics.KafkaCommitOffset).Update(float64(offset))
}

// CurrentState snapshots the committed frontier of every live partition;
// a partition with no commits yet reports the offset just below its first
// read (-1 when it started at the earliest offset).
func (k *KafkaLogConsumer) CurrentState() sideline.ConsumerState {
	k.mu.Lock()
	defer k.mu.Unlock()
	b := sideline.NewConsumerStateBuilder()
	for p, off := range k.committed {
		b.WithPartition(k.topic, p, off)
	}
	return b.Build()
}

// FlushConsumerState persists the committed frontier under this
// consumer's id and returns the persisted snapshot. Partitions whose
// frontier is still -1 (nothing committed since starting at the earliest
// offset) are omitted.
func (k *KafkaLogConsumer) FlushConsumerState() (sideline.ConsumerState, error) {
	k.mu.Lock()
	b := sideline.NewConsumerStateBuilder()
	for p, off := range k.committed {
		if off >= 0 {
			b.WithPartition(k.topic, p, off)
		}
	}
	k.mu.Unlock()
	state := b.Build()
	if err := k.persistence.PersistConsumerState(k.consumerID, state); err != nil {
		return state, errors.Wrapf(err, "persist state for %s", k.consumerID)
	}
	return state, nil
}

// RemoveConsumerState erases this consumer's persisted state.
func (k *KafkaLogConsumer) RemoveConsumerState() error {
	return k.persistence.ClearConsumerState(k.consumerID)
}

// MaxLag returns the largest distance between a partition's latest offset
// (high water mark minus one) and its committed frontier across
// subscribed partitions.
func (k *KafkaLogConsumer) MaxLag() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	lag := float64(0)
	for p, pc := range k.partitions {
		behind := math.Max(0, float64(pc.HighWaterMarkOffset()-1-k.committed[p]))
		lag = math.Max(lag, behind)
	}
	k.tally.Gauge(metrics.KafkaLag).Update(lag)
	return lag
}

// UnsubscribePartition removes the partition from the active set.
// Subsequent NextRecord calls never return it and its entry leaves the
// live committed state. Returns true iff it was subscribed.
func (k *KafkaLogConsumer) UnsubscribePartition(cp sideline.ConsumerPartition) bool {
	if cp.Namespace != k.topic {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	pc, ok := k.partitions[cp.Partition]
	if !ok {
		return false
	}
	if err := pc.Close(); err != nil {
		k.logger.Warn("partition consumer close failed",
			zap.String("topic", k.topic), zap.Int32("partition", cp.Partition), zap.Error(err))
	}
	delete(k.partitions, cp.Partition)
	delete(k.committed, cp.Partition)
	for i, p := range k.order {
		if p == cp.Partition {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
	if len(k.order) > 0 {
		k.next = k.next % len(k.order)
	} else {
		k.next = 0
	}
	k.tally.Counter(metrics.KafkaPartitionUnsubscribed).Inc(1)
	k.logger.Info("partition unsubscribed",
		zap.String("topic", k.topic), zap.Int32("partition", cp.Partition))
	return true
}

// Close releases the partition consumers and the broker connection.
func (k *KafkaLogConsumer) Close() error {
	k.mu.Lock()
	k.closePartitions()
	consumer := k.consumer
	k.consumer = nil
	k.mu.Unlock()
	if consumer != nil {
		return consumer.Close()
	}
	return nil
}

func (k *KafkaLogConsumer) closePartitions() {
	for p, pc := range k.partitions {
		if err := pc.Close(); err != nil {
			k.logger.Warn("partition consumer close failed",
				zap.String("topic", k.topic), zap.Int32("partition", p), zap.Error(err))
		}
		delete(k.partitions, p)
	}
	k.order = nil
	k.next = 0
}

// assignPartitions deterministically splits the topic's partitions among
// peer instances so every partition has exactly one owner.
func assignPartitions(all []int32, totalInstances, instanceIndex int) []int32 {
	var mine []int32
	for i, p := range all {
		if i%totalInstances == instanceIndex {
			mine = append(mine, p)
		}
	}
	return mine
}
