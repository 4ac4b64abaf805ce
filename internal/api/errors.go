package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qlite/qlite/internal/engine"
	"github.com/qlite/qlite/internal/store"
)

// SQS error codes used by the dispatcher.
const (
	codeNonExistentQueue = "AWS.SimpleQueueService.NonExistentQueue"
	codeInvalidParameter = "InvalidParameterValue"
	codeMissingParameter = "MissingParameter"
	codeInvalidAction    = "InvalidAction"
	codeThrottling       = "ThrottlingException"
	codeInternalError    = "InternalError"
	codeServiceUnavail   = "ServiceUnavailable"
	codeRequestCanceled  = "RequestCanceled"
)

// jsonErrorType maps a query-protocol error code onto the JSON protocol's
// __type identifier.
func jsonErrorType(code string) string {
	if code == codeNonExistentQueue {
		return "com.amazonaws.sqs#QueueDoesNotExist"
	}
	return "com.amazonaws.sqs#" + code
}

// writeError emits an SQS error in the protocol the request arrived in.
func writeError(w http.ResponseWriter, req *request, status int, errType, code, message string) {
	if req != nil && req.doc != nil {
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		w.Header().Set("X-Amzn-Query-Error", code+";"+errType)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"__type":  jsonErrorType(code),
			"message": message,
		})
		return
	}
	writeXML(w, status, ErrorResponse{
		Error:    SQSError{Type: errType, Code: code, Message: message},
		Metadata: newMetadata(),
	})
}

func senderError(w http.ResponseWriter, req *request, code, message string) {
	writeError(w, req, http.StatusBadRequest, "Sender", code, message)
}

// writeEngineError maps engine/store errors onto SQS error responses.
// Internal storage details never reach the client message.
func writeEngineError(w http.ResponseWriter, req *request, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		// Oversized payloads get the dedicated status per AWS convention.
		if ve.Param == "MessageBody" && strings.Contains(ve.Reason, "exceed") {
			writeError(w, req, http.StatusRequestEntityTooLarge, "Sender", codeInvalidParameter, ve.Error())
			return
		}
		senderError(w, req, codeInvalidParameter, ve.Error())
	case errors.Is(err, engine.ErrQueueNotFound):
		senderError(w, req, codeNonExistentQueue, "The specified queue does not exist.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		senderError(w, req, codeRequestCanceled, "Request was canceled before completion.")
	case store.IsBusy(err):
		writeError(w, req, http.StatusServiceUnavailable, "Receiver", codeServiceUnavail, "The service is busy; retry the request.")
	default:
		writeError(w, req, http.StatusInternalServerError, "Receiver", codeInternalError, "An internal error occurred while processing the request.")
	}
}
