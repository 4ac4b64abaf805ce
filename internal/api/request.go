package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/qlite/qlite/internal/engine"
)

const amzTargetPrefix = "AmazonSQS."

// request is an SQS call decoded from either the query-protocol form body
// or an application/x-amz-json-1.0 body. Form parameters land in params;
// JSON bodies additionally keep the decoded document for nested fields.
type request struct {
	action string
	params url.Values
	doc    map[string]json.RawMessage
}

// parseRequest decodes the action and parameters from an incoming wire
// request. The action comes from the Action form/query parameter or from
// the X-Amz-Target header.
func parseRequest(r *http.Request) (*request, error) {
	req := &request{params: url.Values{}}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-amz-json") {
		if err := json.NewDecoder(r.Body).Decode(&req.doc); err != nil {
			return nil, fmt.Errorf("malformed JSON body: %w", err)
		}
		req.params = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("malformed form body: %w", err)
		}
		req.params = r.Form
	}

	req.action = req.params.Get("Action")
	if target := r.Header.Get("X-Amz-Target"); target != "" {
		req.action = strings.TrimPrefix(target, amzTargetPrefix)
	}
	return req, nil
}

// get returns a scalar parameter from the JSON document or the form.
func (req *request) get(name string) string {
	if req.doc != nil {
		if raw, ok := req.doc[name]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
			var n float64
			if err := json.Unmarshal(raw, &n); err == nil {
				return strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
	return req.params.Get(name)
}

// getInt returns a numeric parameter, or def when absent.
func (req *request) getInt(name string, def int) (int, error) {
	v := req.get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s must be an integer", name)
	}
	return n, nil
}

// queueName resolves the target queue: the URL path component when present,
// otherwise the final path segment of the QueueUrl parameter, otherwise the
// QueueName parameter.
func (req *request) queueName(pathQueue string) string {
	if pathQueue != "" {
		return pathQueue
	}
	if qurl := req.get("QueueUrl"); qurl != "" {
		if i := strings.LastIndex(qurl, "/"); i >= 0 {
			return qurl[i+1:]
		}
		return qurl
	}
	return req.get("QueueName")
}

// attributes collects SQS queue attributes: the JSON Attributes object or
// the numbered Attribute.N.Name/Attribute.N.Value form pairs.
func (req *request) attributes() map[string]string {
	attrs := make(map[string]string)
	if req.doc != nil {
		if raw, ok := req.doc["Attributes"]; ok {
			_ = json.Unmarshal(raw, &attrs)
		}
		if len(attrs) > 0 {
			return attrs
		}
	}
	for i := 1; ; i++ {
		name := req.params.Get(fmt.Sprintf("Attribute.%d.Name", i))
		if name == "" {
			break
		}
		attrs[name] = req.params.Get(fmt.Sprintf("Attribute.%d.Value", i))
	}
	return attrs
}

// messageAttributes collects message attributes from the JSON
// MessageAttributes object or the numbered MessageAttribute.N.* form keys.
func (req *request) messageAttributes() map[string]engine.MessageAttributeValue {
	if req.doc != nil {
		if raw, ok := req.doc["MessageAttributes"]; ok {
			var attrs map[string]engine.MessageAttributeValue
			if err := json.Unmarshal(raw, &attrs); err == nil && len(attrs) > 0 {
				return attrs
			}
		}
		return nil
	}
	return formMessageAttributes(req.params, "MessageAttribute")
}

func formMessageAttributes(params url.Values, prefix string) map[string]engine.MessageAttributeValue {
	attrs := make(map[string]engine.MessageAttributeValue)
	for i := 1; ; i++ {
		name := params.Get(fmt.Sprintf("%s.%d.Name", prefix, i))
		if name == "" {
			break
		}
		attrs[name] = engine.MessageAttributeValue{
			StringValue: params.Get(fmt.Sprintf("%s.%d.Value.StringValue", prefix, i)),
			BinaryValue: params.Get(fmt.Sprintf("%s.%d.Value.BinaryValue", prefix, i)),
			DataType:    params.Get(fmt.Sprintf("%s.%d.Value.DataType", prefix, i)),
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// jsonBatchEntry covers both send and delete batch entries in the JSON
// protocol.
type jsonBatchEntry struct {
	ID                     string                                   `json:"Id"`
	MessageBody            string                                   `json:"MessageBody"`
	DelaySeconds           int                                      `json:"DelaySeconds"`
	MessageDeduplicationID string                                   `json:"MessageDeduplicationId"`
	MessageGroupID         string                                   `json:"MessageGroupId"`
	MessageAttributes      map[string]engine.MessageAttributeValue  `json:"MessageAttributes"`
	ReceiptHandle          string                                   `json:"ReceiptHandle"`
}

func (req *request) jsonEntries() ([]jsonBatchEntry, bool) {
	if req.doc == nil {
		return nil, false
	}
	raw, ok := req.doc["Entries"]
	if !ok {
		return nil, false
	}
	var entries []jsonBatchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// sendBatchEntries decodes SendMessageBatch entries from either protocol.
func (req *request) sendBatchEntries() []engine.SendBatchEntry {
	if entries, ok := req.jsonEntries(); ok {
		out := make([]engine.SendBatchEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, engine.SendBatchEntry{
				ID:              e.ID,
				Body:            e.MessageBody,
				Attributes:      e.MessageAttributes,
				DeduplicationID: e.MessageDeduplicationID,
				MessageGroupID:  e.MessageGroupID,
				DelaySeconds:    e.DelaySeconds,
			})
		}
		return out
	}

	var out []engine.SendBatchEntry
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("SendMessageBatchRequestEntry.%d", i)
		id := req.params.Get(prefix + ".Id")
		if id == "" {
			break
		}
		delay, _ := strconv.Atoi(req.params.Get(prefix + ".DelaySeconds"))
		out = append(out, engine.SendBatchEntry{
			ID:              id,
			Body:            req.params.Get(prefix + ".MessageBody"),
			Attributes:      formMessageAttributes(req.params, prefix+".MessageAttribute"),
			DeduplicationID: req.params.Get(prefix + ".MessageDeduplicationId"),
			MessageGroupID:  req.params.Get(prefix + ".MessageGroupId"),
			DelaySeconds:    delay,
		})
	}
	return out
}

// deleteBatchEntries decodes DeleteMessageBatch entries from either
// protocol.
func (req *request) deleteBatchEntries() []engine.DeleteBatchEntry {
	if entries, ok := req.jsonEntries(); ok {
		out := make([]engine.DeleteBatchEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, engine.DeleteBatchEntry{ID: e.ID, ReceiptHandle: e.ReceiptHandle})
		}
		return out
	}

	var out []engine.DeleteBatchEntry
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("DeleteMessageBatchRequestEntry.%d", i)
		id := req.params.Get(prefix + ".Id")
		if id == "" {
			break
		}
		out = append(out, engine.DeleteBatchEntry{
			ID:            id,
			ReceiptHandle: req.params.Get(prefix + ".ReceiptHandle"),
		})
	}
	return out
}
