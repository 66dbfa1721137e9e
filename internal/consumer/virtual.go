// Package consumer implements the virtual consumer: one logical consumer
// identity against the partitioned log, driven by a supervisor through
// the NextTuple/Ack/Fail protocol. A firehose instance tails the log
// unbounded; a sideline instance replays a bounded range and completes
// when every partition reaches its ending offset.
package consumer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/spoutworks/sideline-client/internal/metrics"
	"github.com/spoutworks/sideline-client/internal/util"
	"github.com/spoutworks/sideline-client/sideline"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	// Built-in plugins register themselves with the sideline registry.
	_ "github.com/spoutworks/sideline-client/persistence"
	_ "github.com/spoutworks/sideline-client/retry"
	_ "github.com/spoutworks/sideline-client/serde"
)

type (
	// logConsumer is the contract the virtual consumer needs from the
	// log wrapper; KafkaLogConsumer is the production implementation.
	logConsumer interface {
		Open(cfg sideline.Config, persistence sideline.PersistenceAdapter, deserializer sideline.Deserializer, starting *sideline.ConsumerState) error
		NextRecord() *sideline.Record
		CommitOffset(namespace string, partition int32, offset int64)
		CurrentState() sideline.ConsumerState
		FlushConsumerState() (sideline.ConsumerState, error)
		RemoveConsumerState() error
		MaxLag() float64
		UnsubscribePartition(cp sideline.ConsumerPartition) bool
		Close() error
	}

	// VirtualConsumerOptions carries the optional pieces of a virtual
	// consumer. Nil collaborators are resolved from the plugin registry
	// via the *.class configuration keys at Open time; an injected
	// persistence adapter is assumed to be opened and shared, and is
	// not closed with the consumer.
	VirtualConsumerOptions struct {
		StartingState   *sideline.ConsumerState
		EndingState     *sideline.ConsumerState
		SidelineRequest sideline.SidelineRequestID
		FilterChain     *sideline.FilterChain
		RetryPolicy     sideline.RetryPolicy
		Deserializer    sideline.Deserializer
		Persistence     sideline.PersistenceAdapter

		// Interrupt is the cooperative-cancellation channel: once the
		// context is done, IsStopRequested reports true.
		Interrupt context.Context
	}

	// VirtualConsumer orchestrates the log consumer, filter chain and
	// retry policy for one consumer identity. Exactly one goroutine
	// drives NextTuple; Ack and Fail may arrive from the supervisor's
	// dispatcher goroutine; RequestStop and the observables are safe
	// from any goroutine.
	VirtualConsumer struct {
		id  string
		cfg sideline.Config

		logger *zap.Logger
		tally  tally.Scope

		lifecycle *util.RunLifecycle
		newLog    func() logConsumer

		log             logConsumer
		retryPolicy     sideline.RetryPolicy
		deserializer    sideline.Deserializer
		persistence     sideline.PersistenceAdapter
		ownsPersistence bool

		filterChain     *sideline.FilterChain
		starting        *sideline.ConsumerState
		ending          *sideline.ConsumerState
		sidelineRequest sideline.SidelineRequestID
		interrupt       context.Context

		completed     *atomic.Bool
		stopRequested *atomic.Bool

		mu       sync.Mutex
		inflight map[sideline.MessageID]sideline.Message

		filteredCounter          tally.Counter
		failCounter              tally.Counter
		exceededRetryCounter     tally.Counter
		notDeserializableCounter tally.Counter
	}
)

// NewVirtualConsumer returns an unopened virtual consumer with the given
// identity. Counters are emitted under a sub-scope named by the id.
func NewVirtualConsumer(id string, cfg sideline.Config, opts VirtualConsumerOptions, scope tally.Scope, logger *zap.Logger) (*VirtualConsumer, error) {
	if id == "" {
		return nil, errors.New("virtual consumer id must not be empty")
	}
	filterChain := opts.FilterChain
	if filterChain == nil {
		filterChain = sideline.NewFilterChain()
	}
	sub := scope.SubScope(id)
	v := &VirtualConsumer{
		id:                       id,
		cfg:                      cfg,
		logger:                   logger,
		tally:                    sub,
		lifecycle:                util.NewRunLifecycle(id+"-virtual-consumer", logger),
		retryPolicy:              opts.RetryPolicy,
		deserializer:             opts.Deserializer,
		persistence:              opts.Persistence,
		filterChain:              filterChain,
		starting:                 opts.StartingState,
		ending:                   opts.EndingState,
		sidelineRequest:          opts.SidelineRequest,
		interrupt:                opts.Interrupt,
		completed:                atomic.NewBool(false),
		stopRequested:            atomic.NewBool(false),
		inflight:                 make(map[sideline.MessageID]sideline.Message),
		filteredCounter:          sub.Counter(metrics.VirtualConsumerFiltered),
		failCounter:              sub.Counter(metrics.VirtualConsumerFail),
		exceededRetryCounter:     sub.Counter(metrics.VirtualConsumerExceededRetry),
		notDeserializableCounter: sub.Counter(metrics.VirtualConsumerNotDeserializable),
	}
	v.newLog = func() logConsumer {
		return NewKafkaLogConsumer(id, sub, logger)
	}
	return v, nil
}

// Open resolves the pluggable collaborators and opens the log consumer
// at the starting state. It may be called exactly once; a second call
// returns ErrAlreadyOpened and changes nothing.
func (v *VirtualConsumer) Open() error {
	err := v.lifecycle.Start(func() error {
		if v.retryPolicy == nil {
			policy, err := sideline.NewRetryPolicy(v.cfg.String(sideline.CfgRetryManagerClass, "exponential_backoff"))
			if err != nil {
				return err
			}
			v.retryPolicy = policy
		}
		if err := v.retryPolicy.Open(v.cfg); err != nil {
			return errors.Wrap(err, "open retry policy")
		}
		if v.deserializer == nil {
			deserializer, err := sideline.NewDeserializer(v.cfg.String(sideline.CfgDeserializerClass, "utf8"))
			if err != nil {
				return err
			}
			v.deserializer = deserializer
		}
		if v.persistence == nil {
			adapter, err := sideline.NewPersistenceAdapter(v.cfg.String(sideline.CfgPersistenceManagerClass, "zookeeper"))
			if err != nil {
				return err
			}
			if err := adapter.Open(v.cfg); err != nil {
				return errors.Wrap(err, "open persistence adapter")
			}
			v.persistence = adapter
			v.ownsPersistence = true
		}
		v.log = v.newLog()
		return v.log.Open(v.cfg, v.persistence, v.deserializer, v.starting)
	})
	if err == util.ErrAlreadyStarted {
		return sideline.ErrAlreadyOpened
	}
	return err
}

// Close shuts the consumer down. A completed consumer erases its
// persisted state and clears its sideline request entries; an
// interrupted one flushes the frontier so a restart resumes correctly.
// Idempotent, and a no-op if the consumer was never opened.
func (v *VirtualConsumer) Close() error {
	var firstErr error
	v.lifecycle.Stop(func() {
		if v.completed.Load() {
			if err := v.log.RemoveConsumerState(); err != nil {
				v.logger.Error("remove consumer state failed", zap.String("consumer", v.id), zap.Error(err))
				firstErr = err
			}
			v.clearSidelineRequest(&firstErr)
		} else {
			if _, err := v.log.FlushConsumerState(); err != nil {
				v.logger.Error("flush on close failed", zap.String("consumer", v.id), zap.Error(err))
				firstErr = err
			}
		}
		if err := v.log.Close(); err != nil {
			v.logger.Error("log consumer close failed", zap.String("consumer", v.id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		v.log = nil
		if v.ownsPersistence {
			if err := v.persistence.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// clearSidelineRequest erases the stored request entries for every
// partition of the configured bound. The ending state is the
// authoritative partition source; the starting state is the fallback.
func (v *VirtualConsumer) clearSidelineRequest(firstErr *error) {
	if v.sidelineRequest == "" {
		return
	}
	bound := v.ending
	if bound == nil {
		bound = v.starting
	}
	if bound == nil {
		return
	}
	for _, cp := range bound.Partitions() {
		if err := v.persistence.ClearSidelineRequest(v.sidelineRequest, cp); err != nil {
			v.logger.Error("clear sideline request failed",
				zap.String("consumer", v.id),
				zap.String("request", string(v.sidelineRequest)),
				zap.String("partition", cp.String()),
				zap.Error(err))
			if *firstErr == nil {
				*firstErr = err
			}
		}
	}
}

// NextTuple pulls one emittable message. Messages due for retry take
// priority over fresh records; filtered records are acked in place and a
// record beyond the ending bound unsubscribes its partition. Returns
// (nil, nil) when nothing is emittable right now.
func (v *VirtualConsumer) NextTuple() (*sideline.Message, error) {
	if v.log == nil {
		return nil, sideline.ErrNotOpened
	}

	if id, ok := v.retryPolicy.NextFailedMessageToRetry(); ok {
		v.mu.Lock()
		msg, present := v.inflight[id]
		v.mu.Unlock()
		if present {
			return &msg, nil
		}
		// the id outlived its in-flight entry; drop it
		v.logger.Warn("retry for unknown message id discarded", zap.Stringer("id", id))
		v.retryPolicy.Acked(id)
	}

	record := v.log.NextRecord()
	if record == nil {
		return nil, nil
	}
	id := sideline.MessageID{
		Namespace:  record.Namespace,
		Partition:  record.Partition,
		Offset:     record.Offset,
		ConsumerID: v.id,
	}

	if v.ending != nil {
		endingOffset, ok := v.ending.Offset(record.Namespace, record.Partition)
		if !ok {
			return nil, errors.Wrapf(sideline.ErrMissingEndingOffset, "%s-%d", record.Namespace, record.Partition)
		}
		if record.Offset > endingOffset {
			cp := sideline.ConsumerPartition{Namespace: record.Namespace, Partition: record.Partition}
			v.log.UnsubscribePartition(cp)
			v.logger.Info("partition exceeded ending offset",
				zap.String("consumer", v.id),
				zap.String("partition", cp.String()),
				zap.Int64("offset", record.Offset),
				zap.Int64("ending", endingOffset))
			return nil, nil
		}
	}

	if record.Values == nil {
		v.notDeserializableCounter.Inc(1)
		v.resolve(id)
		return nil, nil
	}

	msg := sideline.Message{ID: id, Values: record.Values}
	if v.filterChain.Filter(msg) {
		v.filteredCounter.Inc(1)
		v.resolve(id)
		return nil, nil
	}

	v.mu.Lock()
	v.inflight[id] = msg
	v.mu.Unlock()
	return &msg, nil
}

// Ack marks a message done: its offset joins the committed frontier and
// its in-flight entry is released. A nil id is ignored; any other shape
// than a MessageID from this instance is rejected.
func (v *VirtualConsumer) Ack(msgID interface{}) error {
	id, err := v.messageID(msgID, "ack")
	if err != nil || id == nil {
		return err
	}
	v.resolve(*id)
	return nil
}

// Fail reports a failed delivery. While the retry policy permits it, the
// message stays in flight and is replayed later; once the budget is
// exhausted it is treated as done and its offset committed.
func (v *VirtualConsumer) Fail(msgID interface{}) error {
	id, err := v.messageID(msgID, "fail")
	if err != nil || id == nil {
		return err
	}
	if !v.retryPolicy.RetryFurther(*id) {
		v.logger.Warn("retry limit exceeded, committing", zap.Stringer("id", *id))
		v.exceededRetryCounter.Inc(1)
		v.resolve(*id)
		return nil
	}
	v.failCounter.Inc(1)
	v.retryPolicy.Failed(*id)
	return nil
}

// messageID validates the boundary-typed ack token. Nil yields (nil,
// nil): logged and ignored.
func (v *VirtualConsumer) messageID(msgID interface{}, op string) (*sideline.MessageID, error) {
	if msgID == nil {
		v.logger.Warn("nil message id ignored", zap.String("op", op), zap.String("consumer", v.id))
		return nil, nil
	}
	var id sideline.MessageID
	switch t := msgID.(type) {
	case sideline.MessageID:
		id = t
	case *sideline.MessageID:
		if t == nil {
			v.logger.Warn("nil message id ignored", zap.String("op", op), zap.String("consumer", v.id))
			return nil, nil
		}
		id = *t
	default:
		return nil, errors.Wrapf(sideline.ErrInvalidMessageID, "%s got %T", op, msgID)
	}
	if id.ConsumerID != v.id {
		return nil, errors.Wrapf(sideline.ErrInvalidMessageID, "%s for consumer %q on %q", op, id.ConsumerID, v.id)
	}
	return &id, nil
}

// resolve commits the offset, releases the in-flight entry and drops any
// retry tracking. Safe to repeat for the same id.
func (v *VirtualConsumer) resolve(id sideline.MessageID) {
	v.log.CommitOffset(id.Namespace, id.Partition, id.Offset)
	v.mu.Lock()
	delete(v.inflight, id)
	v.mu.Unlock()
	v.retryPolicy.Acked(id)
}

// FlushState persists the committed frontier and then checks whether a
// bounded consumer has finished its range.
func (v *VirtualConsumer) FlushState() error {
	if v.log == nil {
		return sideline.ErrNotOpened
	}
	if _, err := v.log.FlushConsumerState(); err != nil {
		return err
	}
	return v.attemptToComplete()
}

// attemptToComplete declares the consumer done once every partition's
// committed frontier has reached its ending offset and nothing is in
// flight. Completion unsubscribes the remaining partitions and requests
// a stop.
func (v *VirtualConsumer) attemptToComplete() error {
	if v.ending == nil {
		return nil
	}
	v.mu.Lock()
	outstanding := len(v.inflight)
	v.mu.Unlock()
	if outstanding > 0 {
		return nil
	}

	state := v.log.CurrentState()
	for _, cp := range state.Partitions() {
		endingOffset, ok := v.ending.OffsetFor(cp)
		if !ok {
			return errors.Wrapf(sideline.ErrMissingEndingOffset, "%s", cp)
		}
		committed, _ := state.OffsetFor(cp)
		if committed < endingOffset {
			return nil
		}
	}
	for _, cp := range state.Partitions() {
		v.log.UnsubscribePartition(cp)
	}
	v.completed.Store(true)
	v.logger.Info("virtual consumer completed", zap.String("consumer", v.id))
	v.RequestStop()
	return nil
}

// RequestStop asks the supervisor to stop driving this consumer. Safe
// from any goroutine; idempotent.
func (v *VirtualConsumer) RequestStop() {
	v.stopRequested.Store(true)
}

// IsStopRequested reports whether a stop was requested or the interrupt
// context is done.
func (v *VirtualConsumer) IsStopRequested() bool {
	if v.stopRequested.Load() {
		return true
	}
	return v.interrupt != nil && v.interrupt.Err() != nil
}

// IsCompleted reports whether a bounded consumer finished its range.
func (v *VirtualConsumer) IsCompleted() bool {
	return v.completed.Load()
}

// CurrentState snapshots the live committed frontier.
func (v *VirtualConsumer) CurrentState() sideline.ConsumerState {
	if v.log == nil {
		return sideline.NewConsumerStateBuilder().Build()
	}
	return v.log.CurrentState()
}

// MaxLag reports the largest per-partition distance behind the log head.
func (v *VirtualConsumer) MaxLag() float64 {
	if v.log == nil {
		return 0
	}
	return v.log.MaxLag()
}

// NumberOfFiltersApplied reports the filter chain's step count.
func (v *VirtualConsumer) NumberOfFiltersApplied() int {
	return v.filterChain.Len()
}

// VirtualConsumerID returns this consumer's identity.
func (v *VirtualConsumer) VirtualConsumerID() string {
	return v.id
}
