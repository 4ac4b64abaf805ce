package store

import "time"

// Message statuses. dlq_pending is an internal transient state set while a
// message waits to be moved into the dead-letter table; receive never
// selects it.
const (
	StatusActive     = "active"
	StatusProcessing = "processing"
	StatusDeleted    = "deleted"
	StatusDLQPending = "dlq_pending"
)

// Message is a persisted queue message.
type Message struct {
	ID                 string
	QueueName          string
	Body               string
	CreatedAt          time.Time
	VisibilityDeadline *time.Time
	ReceiveCount       int
	Attributes         string // serialized JSON map, empty when none
	DeduplicationID    string
	Status             string
	ProcessedAt        *time.Time
	DeletedAt          *time.Time
	DelayUntil         *time.Time
	MessageGroupID     string
	SequenceNumber     int64 // 0 on standard queues
}

// QueueInfo is a row from the queues table.
type QueueInfo struct {
	Name      string
	CreatedAt time.Time
}

// QueueConfig is a row from the queue_config table. MaxReceiveCount == 0
// means unlimited (no DLQ promotion).
type QueueConfig struct {
	Name                      string
	IsFifo                    bool
	ContentBasedDeduplication bool
	VisibilityTimeoutSeconds  int
	RetentionPeriodSeconds    int
	MaxReceiveCount           int
	DLQTarget                 string
	DelaySeconds              int
	ReceiveWaitTimeSeconds    int
}

// QueueAttributes are the approximate counters reported by
// GetQueueAttributes.
type QueueAttributes struct {
	ApproximateVisible  int64
	ApproximateInFlight int64
	CreatedAt           time.Time
}

// DLQMessage is a row from the dlq_messages table. The id is the original
// message id.
type DLQMessage struct {
	ID                 string
	OriginalQueue      string
	DLQQueue           string
	FailureReason      string
	MovedAt            time.Time
	OriginalBody       string
	OriginalAttributes string
	ReceiveCount       int
	OriginalCreatedAt  time.Time
}
