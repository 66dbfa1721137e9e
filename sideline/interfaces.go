package sideline

type (
	// RetryPolicy decides whether and when a failed message is replayed.
	// Implementations are stateful: they track attempt counts and due
	// times per message id. The engine calls Failed/Acked from the
	// dispatcher thread and NextFailedMessageToRetry from the polling
	// thread, so implementations must be safe for that access pattern.
	RetryPolicy interface {
		// Open initializes tunables from configuration.
		Open(cfg Config) error

		// Failed records a failed delivery attempt for the id and
		// schedules its next retry.
		Failed(id MessageID)

		// Acked drops all tracking for the id. No-op if absent.
		Acked(id MessageID)

		// RetryFurther reports whether another retry of the id is
		// permitted under the policy.
		RetryFurther(id MessageID) bool

		// NextFailedMessageToRetry returns one id whose retry is due
		// and removes it from the waiting set. The second return is
		// false when nothing is due.
		NextFailedMessageToRetry() (MessageID, bool)
	}

	// PersistenceAdapter is the key-value store of consumer offsets and
	// sideline request bounds. One adapter instance may be shared by
	// many virtual consumers; entries are keyed by consumer id or by
	// (sideline request id, partition).
	PersistenceAdapter interface {
		Open(cfg Config) error
		Close() error

		// PersistConsumerState stores the committed frontier snapshot
		// under the consumer id, replacing any previous snapshot.
		PersistConsumerState(consumerID string, state ConsumerState) error

		// RetrieveConsumerState returns the stored snapshot, or nil if
		// none exists.
		RetrieveConsumerState(consumerID string) (*ConsumerState, error)

		// ClearConsumerState erases the stored snapshot. No-op if absent.
		ClearConsumerState(consumerID string) error

		// PersistSidelineRequest stores the ending offset at which
		// sidelining stopped for one partition of a request.
		PersistSidelineRequest(id SidelineRequestID, cp ConsumerPartition, endingOffset int64) error

		// RetrieveSidelineRequest returns the stored ending offset for
		// one partition of a request; the bool is false when absent.
		RetrieveSidelineRequest(id SidelineRequestID, cp ConsumerPartition) (int64, bool, error)

		// ClearSidelineRequest erases the stored entry for one
		// partition of a request. No-op if absent.
		ClearSidelineRequest(id SidelineRequestID, cp ConsumerPartition) error
	}

	// Deserializer converts a raw log entry into the opaque values list
	// emitted downstream. A nil return marks the entry not emittable;
	// the engine commits its offset and skips it.
	Deserializer interface {
		Deserialize(namespace string, partition int32, offset int64, key []byte, value []byte) []interface{}
	}
)
