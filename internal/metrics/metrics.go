package metrics

// Counter and gauge names. Virtual consumer counters are emitted under a
// scope sub-scoped by the consumer id, so the full name reads
// <id>.filtered and so on.
const (
	VirtualConsumerFiltered          = "filtered"
	VirtualConsumerFail              = "fail"
	VirtualConsumerExceededRetry     = "exceeded_retry_limit"
	VirtualConsumerNotDeserializable = "not_deserializable"

	KafkaMessagesIn            = "messages_in"
	KafkaCommitOffset          = "commit_offset"
	KafkaLag                   = "lag"
	KafkaPartitionUnsubscribed = "partition_unsubscribed"
)
