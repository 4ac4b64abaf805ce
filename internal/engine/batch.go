package engine

import (
	"context"
	"errors"
)

// SendBatchEntry is one entry of SendMessagesBatch. ID is the caller's
// correlation id, echoed back in the result.
type SendBatchEntry struct {
	ID              string
	Body            string
	Attributes      map[string]MessageAttributeValue
	DeduplicationID string
	MessageGroupID  string
	DelaySeconds    int
}

// BatchResultErrorEntry describes one failed batch entry.
type BatchResultErrorEntry struct {
	ID          string
	Code        string
	Message     string
	SenderFault bool
}

// SendBatchResult is the per-entry outcome of SendMessagesBatch.
type SendBatchResult struct {
	ID        string
	MessageID string
	Error     *BatchResultErrorEntry
}

// DeleteBatchResult is the per-entry outcome of DeleteMessagesBatch.
type DeleteBatchResult struct {
	ID      string
	Deleted bool
	Error   *BatchResultErrorEntry
}

// SendMessagesBatch sends up to 10 entries. Entries fail independently; a
// failed entry never rolls back its siblings. Results preserve the caller's
// entry ids and ordering.
func (e *Engine) SendMessagesBatch(ctx context.Context, queue string, entries []SendBatchEntry) ([]SendBatchResult, error) {
	if len(entries) == 0 {
		return nil, validationErr("Entries", "batch cannot be empty")
	}
	if len(entries) > MaxBatchSize {
		return nil, validationErr("Entries", "batch cannot exceed %d entries", MaxBatchSize)
	}

	results := make([]SendBatchResult, 0, len(entries))
	for _, entry := range entries {
		res := SendBatchResult{ID: entry.ID}
		id, err := e.SendMessage(ctx, SendInput{
			Queue:           queue,
			Body:            entry.Body,
			Attributes:      entry.Attributes,
			DeduplicationID: entry.DeduplicationID,
			MessageGroupID:  entry.MessageGroupID,
			DelaySeconds:    entry.DelaySeconds,
		})
		if err != nil {
			res.Error = toBatchError(entry.ID, err)
		} else {
			res.MessageID = id
		}
		results = append(results, res)
	}
	return results, nil
}

// DeleteBatchEntry is one entry of DeleteMessagesBatch.
type DeleteBatchEntry struct {
	ID            string
	ReceiptHandle string
}

// DeleteMessagesBatch deletes up to 10 receipt handles, one result per
// entry, preserving entry order.
func (e *Engine) DeleteMessagesBatch(ctx context.Context, entries []DeleteBatchEntry) ([]DeleteBatchResult, error) {
	if len(entries) == 0 {
		return nil, validationErr("Entries", "batch cannot be empty")
	}
	if len(entries) > MaxBatchSize {
		return nil, validationErr("Entries", "batch cannot exceed %d entries", MaxBatchSize)
	}

	results := make([]DeleteBatchResult, 0, len(entries))
	for _, entry := range entries {
		res := DeleteBatchResult{ID: entry.ID}
		deleted, err := e.DeleteMessage(ctx, entry.ReceiptHandle)
		if err != nil {
			res.Error = toBatchError(entry.ID, err)
		} else {
			res.Deleted = deleted
		}
		results = append(results, res)
	}
	return results, nil
}

func toBatchError(entryID string, err error) *BatchResultErrorEntry {
	switch {
	case IsValidation(err):
		return &BatchResultErrorEntry{ID: entryID, Code: "InvalidParameterValue", Message: err.Error(), SenderFault: true}
	case errors.Is(err, ErrQueueNotFound):
		return &BatchResultErrorEntry{ID: entryID, Code: "AWS.SimpleQueueService.NonExistentQueue", Message: err.Error(), SenderFault: true}
	default:
		return &BatchResultErrorEntry{ID: entryID, Code: "InternalError", Message: err.Error(), SenderFault: false}
	}
}
