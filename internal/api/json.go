package api

import (
	"encoding/json"
	"net/http"
)

// The modern AWS SDKs speak the SQS JSON protocol (application/x-amz-json-1.0
// with an X-Amz-Target header) instead of the legacy query protocol. The
// handlers build the XML response structs either way; jsonFromResponse
// translates them into the JSON protocol's document shapes.

// reply writes the response in the protocol the request arrived in.
func (s *Server) reply(w http.ResponseWriter, req *request, status int, body any) {
	if req.doc != nil {
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(jsonFromResponse(body))
		return
	}
	writeXML(w, status, body)
}

func jsonFromResponse(body any) any {
	switch v := body.(type) {
	case CreateQueueResponse:
		return map[string]any{"QueueUrl": v.QueueURL}
	case GetQueueURLResponse:
		return map[string]any{"QueueUrl": v.QueueURL}
	case ListQueuesResponse:
		return map[string]any{"QueueUrls": v.QueueURLs}
	case GetQueueAttributesResponse:
		attrs := make(map[string]string, len(v.Attributes))
		for _, a := range v.Attributes {
			attrs[a.Name] = a.Value
		}
		return map[string]any{"Attributes": attrs}
	case SendMessageResponse:
		out := map[string]any{
			"MessageId":        v.MessageID,
			"MD5OfMessageBody": v.MD5OfBody,
		}
		if v.SequenceNum != "" {
			out["SequenceNumber"] = v.SequenceNum
		}
		return out
	case SendMessageBatchResponse:
		succeeded := make([]map[string]any, 0, len(v.Succeeded))
		for _, e := range v.Succeeded {
			succeeded = append(succeeded, map[string]any{
				"Id":               e.ID,
				"MessageId":        e.MessageID,
				"MD5OfMessageBody": e.MD5OfBody,
			})
		}
		return map[string]any{
			"Successful": succeeded,
			"Failed":     jsonBatchErrors(v.Failed),
		}
	case ReceiveMessageResponse:
		messages := make([]map[string]any, 0, len(v.Messages))
		for _, m := range v.Messages {
			messages = append(messages, jsonMessage(m))
		}
		return map[string]any{"Messages": messages}
	case DeleteMessageBatchResponse:
		succeeded := make([]map[string]any, 0, len(v.Succeeded))
		for _, e := range v.Succeeded {
			succeeded = append(succeeded, map[string]any{"Id": e.ID})
		}
		return map[string]any{
			"Successful": succeeded,
			"Failed":     jsonBatchErrors(v.Failed),
		}
	default:
		// Empty-result actions: DeleteQueue, SetQueueAttributes,
		// DeleteMessage, PurgeQueue.
		return map[string]any{}
	}
}

func jsonBatchErrors(failed []BatchResultErrorEntry) []map[string]any {
	out := make([]map[string]any, 0, len(failed))
	for _, e := range failed {
		out = append(out, map[string]any{
			"Id":          e.ID,
			"Code":        e.Code,
			"Message":     e.Message,
			"SenderFault": e.SenderFault,
		})
	}
	return out
}

func jsonMessage(m SQSMessage) map[string]any {
	out := map[string]any{
		"MessageId":     m.MessageID,
		"ReceiptHandle": m.ReceiptHandle,
		"MD5OfBody":     m.MD5OfBody,
		"Body":          m.Body,
	}
	if len(m.Attributes) > 0 {
		attrs := make(map[string]string, len(m.Attributes))
		for _, a := range m.Attributes {
			attrs[a.Name] = a.Value
		}
		out["Attributes"] = attrs
	}
	if len(m.MessageAttributes) > 0 {
		attrs := make(map[string]any, len(m.MessageAttributes))
		for _, a := range m.MessageAttributes {
			value := map[string]any{"DataType": a.DataType}
			if a.StringValue != "" {
				value["StringValue"] = a.StringValue
			}
			if a.BinaryValue != "" {
				value["BinaryValue"] = a.BinaryValue
			}
			attrs[a.Name] = value
		}
		out["MessageAttributes"] = attrs
	}
	return out
}
