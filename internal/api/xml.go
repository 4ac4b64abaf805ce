package api

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// xmlDeclaration is prepended to every wire response.
const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

// ResponseMetadata carries the per-request id echoed on every SQS response.
type ResponseMetadata struct {
	RequestID string `xml:"RequestId"`
}

func newMetadata() ResponseMetadata {
	return ResponseMetadata{RequestID: uuid.NewString()}
}

type CreateQueueResponse struct {
	XMLName  xml.Name         `xml:"CreateQueueResponse"`
	QueueURL string           `xml:"CreateQueueResult>QueueUrl"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type DeleteQueueResponse struct {
	XMLName  xml.Name         `xml:"DeleteQueueResponse"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type ListQueuesResponse struct {
	XMLName   xml.Name         `xml:"ListQueuesResponse"`
	QueueURLs []string         `xml:"ListQueuesResult>QueueUrl"`
	Metadata  ResponseMetadata `xml:"ResponseMetadata"`
}

type GetQueueURLResponse struct {
	XMLName  xml.Name         `xml:"GetQueueUrlResponse"`
	QueueURL string           `xml:"GetQueueUrlResult>QueueUrl"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type Attribute struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

type GetQueueAttributesResponse struct {
	XMLName    xml.Name         `xml:"GetQueueAttributesResponse"`
	Attributes []Attribute      `xml:"GetQueueAttributesResult>Attribute"`
	Metadata   ResponseMetadata `xml:"ResponseMetadata"`
}

type SetQueueAttributesResponse struct {
	XMLName  xml.Name         `xml:"SetQueueAttributesResponse"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type SendMessageResponse struct {
	XMLName     xml.Name         `xml:"SendMessageResponse"`
	MessageID   string           `xml:"SendMessageResult>MessageId"`
	MD5OfBody   string           `xml:"SendMessageResult>MD5OfMessageBody"`
	SequenceNum string           `xml:"SendMessageResult>SequenceNumber,omitempty"`
	Metadata    ResponseMetadata `xml:"ResponseMetadata"`
}

type SendMessageBatchResultEntry struct {
	ID        string `xml:"Id"`
	MessageID string `xml:"MessageId"`
	MD5OfBody string `xml:"MD5OfMessageBody"`
}

type BatchResultErrorEntry struct {
	ID          string `xml:"Id"`
	Code        string `xml:"Code"`
	Message     string `xml:"Message"`
	SenderFault bool   `xml:"SenderFault"`
}

type SendMessageBatchResponse struct {
	XMLName   xml.Name                      `xml:"SendMessageBatchResponse"`
	Succeeded []SendMessageBatchResultEntry `xml:"SendMessageBatchResult>SendMessageBatchResultEntry"`
	Failed    []BatchResultErrorEntry       `xml:"SendMessageBatchResult>BatchResultErrorEntry"`
	Metadata  ResponseMetadata              `xml:"ResponseMetadata"`
}

type MessageAttributeXML struct {
	Name        string `xml:"Name"`
	StringValue string `xml:"Value>StringValue,omitempty"`
	BinaryValue string `xml:"Value>BinaryValue,omitempty"`
	DataType    string `xml:"Value>DataType"`
}

type SQSMessage struct {
	MessageID         string                `xml:"MessageId"`
	ReceiptHandle     string                `xml:"ReceiptHandle"`
	MD5OfBody         string                `xml:"MD5OfBody"`
	Body              string                `xml:"Body"`
	Attributes        []Attribute           `xml:"Attribute"`
	MessageAttributes []MessageAttributeXML `xml:"MessageAttribute"`
}

type ReceiveMessageResponse struct {
	XMLName  xml.Name         `xml:"ReceiveMessageResponse"`
	Messages []SQSMessage     `xml:"ReceiveMessageResult>Message"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type DeleteMessageResponse struct {
	XMLName  xml.Name         `xml:"DeleteMessageResponse"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type DeleteMessageBatchResultEntry struct {
	ID string `xml:"Id"`
}

type DeleteMessageBatchResponse struct {
	XMLName   xml.Name                        `xml:"DeleteMessageBatchResponse"`
	Succeeded []DeleteMessageBatchResultEntry `xml:"DeleteMessageBatchResult>DeleteMessageBatchResultEntry"`
	Failed    []BatchResultErrorEntry         `xml:"DeleteMessageBatchResult>BatchResultErrorEntry"`
	Metadata  ResponseMetadata                `xml:"ResponseMetadata"`
}

type PurgeQueueResponse struct {
	XMLName  xml.Name         `xml:"PurgeQueueResponse"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

type SQSError struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

type ErrorResponse struct {
	XMLName  xml.Name         `xml:"ErrorResponse"`
	Error    SQSError         `xml:"Error"`
	Metadata ResponseMetadata `xml:"ResponseMetadata"`
}

// writeXML serializes an SQS response with the XML declaration prefix.
func writeXML(w http.ResponseWriter, status int, body any) {
	raw, err := xml.Marshal(body)
	if err != nil {
		http.Error(w, "response serialization failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprint(w, xmlDeclaration, string(raw))
}
