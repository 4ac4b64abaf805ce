package api

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/common/metrics"
	"github.com/qlite/qlite/internal/engine"
)

// handleSQS is the single entry point for the SQS wire protocol. Both
// POST / and POST /{queueName} land here; the action comes from the form
// body or the X-Amz-Target header.
func (s *Server) handleSQS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := parseRequest(r)
	if err != nil {
		senderError(w, req, codeInvalidParameter, err.Error())
		return
	}
	if req.action == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter Action.")
		return
	}
	queue := req.queueName(chi.URLParam(r, "queueName"))

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(rec, r, req, queue)

	metrics.HTTPRequestsTotal.WithLabelValues(req.action, strconv.Itoa(rec.status)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(req.action).Observe(time.Since(start).Seconds())
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	switch req.action {
	case "CreateQueue":
		s.handleCreateQueue(w, r, req)
	case "DeleteQueue":
		s.handleDeleteQueue(w, r, req, queue)
	case "ListQueues":
		s.handleListQueues(w, r, req)
	case "GetQueueUrl":
		s.handleGetQueueURL(w, r, req)
	case "GetQueueAttributes":
		s.handleGetQueueAttributes(w, r, req, queue)
	case "SetQueueAttributes":
		s.handleSetQueueAttributes(w, r, req, queue)
	case "SendMessage":
		s.handleSendMessage(w, r, req, queue)
	case "SendMessageBatch":
		s.handleSendMessageBatch(w, r, req, queue)
	case "ReceiveMessage":
		s.handleReceiveMessage(w, r, req, queue)
	case "DeleteMessage":
		s.handleDeleteMessage(w, r, req)
	case "DeleteMessageBatch":
		s.handleDeleteMessageBatch(w, r, req)
	case "PurgeQueue":
		s.handlePurgeQueue(w, r, req, queue)
	default:
		log.Warn().Str("action", req.action).Msg("Unknown SQS action")
		senderError(w, req, codeInvalidAction, fmt.Sprintf("The action %s is not valid for this endpoint.", req.action))
	}
}

func (s *Server) queueURL(name string) string {
	return s.baseURL + "/" + name
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request, req *request) {
	name := req.get("QueueName")
	if name == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueName.")
		return
	}
	if err := s.engine.CreateQueueWithAttributes(r.Context(), name, req.attributes()); err != nil {
		writeEngineError(w, req, err)
		return
	}
	s.reply(w, req, http.StatusOK, CreateQueueResponse{
		QueueURL: s.queueURL(name),
		Metadata: newMetadata(),
	})
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	deleted, err := s.engine.DeleteQueue(r.Context(), queue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if !deleted {
		senderError(w, req, codeNonExistentQueue, "The specified queue does not exist.")
		return
	}
	s.reply(w, req, http.StatusOK, DeleteQueueResponse{Metadata: newMetadata()})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request, req *request) {
	queues, err := s.engine.ListQueues(r.Context())
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	prefix := req.get("QueueNamePrefix")
	urls := make([]string, 0, len(queues))
	for _, q := range queues {
		if prefix != "" && !hasPrefix(q.Name, prefix) {
			continue
		}
		urls = append(urls, s.queueURL(q.Name))
	}
	s.reply(w, req, http.StatusOK, ListQueuesResponse{QueueURLs: urls, Metadata: newMetadata()})
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (s *Server) handleGetQueueURL(w http.ResponseWriter, r *http.Request, req *request) {
	name := req.get("QueueName")
	if name == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueName.")
		return
	}
	exists, err := s.engine.Store().QueueExists(r.Context(), name)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if !exists {
		senderError(w, req, codeNonExistentQueue, "The specified queue does not exist.")
		return
	}
	s.reply(w, req, http.StatusOK, GetQueueURLResponse{
		QueueURL: s.queueURL(name),
		Metadata: newMetadata(),
	})
}

func (s *Server) handleGetQueueAttributes(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	counts, err := s.engine.GetQueueAttributes(r.Context(), queue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	cfg, err := s.engine.GetQueueConfig(r.Context(), queue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	attrs := []Attribute{
		{Name: "ApproximateNumberOfMessages", Value: strconv.FormatInt(counts.ApproximateVisible, 10)},
		{Name: "ApproximateNumberOfMessagesNotVisible", Value: strconv.FormatInt(counts.ApproximateInFlight, 10)},
		{Name: "CreatedTimestamp", Value: strconv.FormatInt(counts.CreatedAt.Unix(), 10)},
		{Name: "VisibilityTimeout", Value: strconv.Itoa(cfg.VisibilityTimeoutSeconds)},
		{Name: "MessageRetentionPeriod", Value: strconv.Itoa(cfg.RetentionPeriodSeconds)},
		{Name: "DelaySeconds", Value: strconv.Itoa(cfg.DelaySeconds)},
		{Name: "ReceiveMessageWaitTimeSeconds", Value: strconv.Itoa(cfg.ReceiveWaitTimeSeconds)},
		{Name: "QueueArn", Value: "arn:aws:sqs:local:000000000000:" + queue},
	}
	if cfg.IsFifo {
		attrs = append(attrs,
			Attribute{Name: "FifoQueue", Value: "true"},
			Attribute{Name: "ContentBasedDeduplication", Value: strconv.FormatBool(cfg.ContentBasedDeduplication)},
		)
	}
	if cfg.DLQTarget != "" {
		policy := fmt.Sprintf(`{"deadLetterTargetArn":%q,"maxReceiveCount":"%d"}`, cfg.DLQTarget, cfg.MaxReceiveCount)
		attrs = append(attrs, Attribute{Name: "RedrivePolicy", Value: policy})
	}
	s.reply(w, req, http.StatusOK, GetQueueAttributesResponse{Attributes: attrs, Metadata: newMetadata()})
}

func (s *Server) handleSetQueueAttributes(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	if err := s.engine.SetQueueAttributes(r.Context(), queue, req.attributes()); err != nil {
		writeEngineError(w, req, err)
		return
	}
	s.reply(w, req, http.StatusOK, SetQueueAttributesResponse{Metadata: newMetadata()})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	if !s.allowSend(queue, 1) {
		metrics.ThrottledRequests.WithLabelValues(queue).Inc()
		writeError(w, req, http.StatusTooManyRequests, "Sender", codeThrottling, "Rate exceeded for this FIFO queue.")
		return
	}
	delay, err := req.getInt("DelaySeconds", 0)
	if err != nil {
		senderError(w, req, codeInvalidParameter, err.Error())
		return
	}
	body := req.get("MessageBody")
	id, err := s.engine.SendMessage(r.Context(), engine.SendInput{
		Queue:           queue,
		Body:            body,
		Attributes:      req.messageAttributes(),
		DeduplicationID: req.get("MessageDeduplicationId"),
		MessageGroupID:  req.get("MessageGroupId"),
		DelaySeconds:    delay,
	})
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	s.reply(w, req, http.StatusOK, SendMessageResponse{
		MessageID: id,
		MD5OfBody: md5Hex(body),
		Metadata:  newMetadata(),
	})
}

func (s *Server) handleSendMessageBatch(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	entries := req.sendBatchEntries()
	if !s.allowSend(queue, len(entries)) {
		metrics.ThrottledRequests.WithLabelValues(queue).Inc()
		writeError(w, req, http.StatusTooManyRequests, "Sender", codeThrottling, "Rate exceeded for this FIFO queue.")
		return
	}
	results, err := s.engine.SendMessagesBatch(r.Context(), queue, entries)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	resp := SendMessageBatchResponse{Metadata: newMetadata()}
	bodies := make(map[string]string, len(entries))
	for _, e := range entries {
		bodies[e.ID] = e.Body
	}
	for _, res := range results {
		if res.Error != nil {
			resp.Failed = append(resp.Failed, BatchResultErrorEntry{
				ID:          res.Error.ID,
				Code:        res.Error.Code,
				Message:     res.Error.Message,
				SenderFault: res.Error.SenderFault,
			})
			continue
		}
		resp.Succeeded = append(resp.Succeeded, SendMessageBatchResultEntry{
			ID:        res.ID,
			MessageID: res.MessageID,
			MD5OfBody: md5Hex(bodies[res.ID]),
		})
	}
	s.reply(w, req, http.StatusOK, resp)
}

func (s *Server) handleReceiveMessage(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	max, err := req.getInt("MaxNumberOfMessages", 1)
	if err != nil {
		senderError(w, req, codeInvalidParameter, err.Error())
		return
	}
	wait, err := req.getInt("WaitTimeSeconds", 0)
	if err != nil {
		senderError(w, req, codeInvalidParameter, err.Error())
		return
	}

	delivered, err := s.engine.ReceiveMessages(r.Context(), queue, max, wait)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	resp := ReceiveMessageResponse{Metadata: newMetadata()}
	for _, m := range delivered {
		resp.Messages = append(resp.Messages, toSQSMessage(m))
	}
	s.reply(w, req, http.StatusOK, resp)
}

func toSQSMessage(m engine.DeliveredMessage) SQSMessage {
	msg := SQSMessage{
		MessageID:     m.ID,
		ReceiptHandle: m.ReceiptHandle,
		MD5OfBody:     md5Hex(m.Body),
		Body:          m.Body,
		Attributes: []Attribute{
			{Name: "ApproximateReceiveCount", Value: strconv.Itoa(m.ReceiveCount)},
			{Name: "SentTimestamp", Value: strconv.FormatInt(m.SentAt.UnixMilli(), 10)},
		},
	}
	if m.MessageGroupID != "" {
		msg.Attributes = append(msg.Attributes, Attribute{Name: "MessageGroupId", Value: m.MessageGroupID})
	}
	if m.SequenceNumber > 0 {
		msg.Attributes = append(msg.Attributes, Attribute{Name: "SequenceNumber", Value: strconv.FormatInt(m.SequenceNumber, 10)})
	}
	for name, attr := range m.Attributes {
		msg.MessageAttributes = append(msg.MessageAttributes, MessageAttributeXML{
			Name:        name,
			StringValue: attr.StringValue,
			BinaryValue: attr.BinaryValue,
			DataType:    attr.DataType,
		})
	}
	return msg
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, req *request) {
	handle := req.get("ReceiptHandle")
	if handle == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter ReceiptHandle.")
		return
	}
	// Unknown handles succeed, matching SQS at-least-once delete semantics.
	if _, err := s.engine.DeleteMessage(r.Context(), handle); err != nil {
		writeEngineError(w, req, err)
		return
	}
	s.reply(w, req, http.StatusOK, DeleteMessageResponse{Metadata: newMetadata()})
}

func (s *Server) handleDeleteMessageBatch(w http.ResponseWriter, r *http.Request, req *request) {
	results, err := s.engine.DeleteMessagesBatch(r.Context(), req.deleteBatchEntries())
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	resp := DeleteMessageBatchResponse{Metadata: newMetadata()}
	for _, res := range results {
		if res.Error != nil {
			resp.Failed = append(resp.Failed, BatchResultErrorEntry{
				ID:          res.Error.ID,
				Code:        res.Error.Code,
				Message:     res.Error.Message,
				SenderFault: res.Error.SenderFault,
			})
			continue
		}
		resp.Succeeded = append(resp.Succeeded, DeleteMessageBatchResultEntry{ID: res.ID})
	}
	s.reply(w, req, http.StatusOK, resp)
}

func (s *Server) handlePurgeQueue(w http.ResponseWriter, r *http.Request, req *request, queue string) {
	if queue == "" {
		senderError(w, req, codeMissingParameter, "The request must contain the parameter QueueUrl.")
		return
	}
	count, err := s.engine.PurgeQueue(r.Context(), queue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	log.Info().Str("queue", queue).Int64("purged", count).Msg("Queue purged")
	s.reply(w, req, http.StatusOK, PurgeQueueResponse{Metadata: newMetadata()})
}

func md5Hex(body string) string {
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}
