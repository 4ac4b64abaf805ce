package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageAttributeValue mirrors the SQS message attribute shape.
type MessageAttributeValue struct {
	StringValue string `json:"StringValue,omitempty"`
	BinaryValue string `json:"BinaryValue,omitempty"`
	DataType    string `json:"DataType"`
}

// DeliveredMessage is what ReceiveMessages hands to callers. The receipt
// handle is the token DeleteMessage consumes.
type DeliveredMessage struct {
	ID             string
	ReceiptHandle  string
	Body           string
	Attributes     map[string]MessageAttributeValue
	ReceiveCount   int
	MessageGroupID string
	SequenceNumber int64
	SentAt         time.Time
}

func marshalAttributes(attrs map[string]MessageAttributeValue) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal message attributes: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttributes(raw string) map[string]MessageAttributeValue {
	if raw == "" {
		return nil
	}
	var attrs map[string]MessageAttributeValue
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		// Stored by us, so this should not happen; deliver the body anyway.
		return nil
	}
	return attrs
}
