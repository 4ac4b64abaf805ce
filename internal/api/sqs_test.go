package api

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlite/qlite/internal/common/health"
	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/engine"
	"github.com/qlite/qlite/internal/notify"
	"github.com/qlite/qlite/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.Default()
	eng := engine.New(s, notify.New(), cfg.Queues)
	srv := httptest.NewServer(NewServer(eng, cfg, health.NewChecker()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func sqsCall(t *testing.T, srv *httptest.Server, path string, params url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/x-www-form-urlencoded", strings.NewReader(params.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp, sb.String()
}

func decodeXML(t *testing.T, body string, out any) {
	t.Helper()
	require.NoError(t, xml.Unmarshal([]byte(body), out))
}

func TestCreateSendReceiveDeleteOverWire(t *testing.T) {
	srv := newTestServer(t)

	resp, body := sqsCall(t, srv, "/", url.Values{
		"Action":    {"CreateQueue"},
		"QueueName": {"orders"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.True(t, strings.HasPrefix(body, `<?xml version="1.0" encoding="UTF-8"?>`))
	var created CreateQueueResponse
	decodeXML(t, body, &created)
	assert.True(t, strings.HasSuffix(created.QueueURL, "/orders"))
	assert.NotEmpty(t, created.Metadata.RequestID)

	resp, body = sqsCall(t, srv, "/orders", url.Values{
		"Action":      {"SendMessage"},
		"MessageBody": {"hello world"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var sent SendMessageResponse
	decodeXML(t, body, &sent)
	assert.NotEmpty(t, sent.MessageID)
	assert.Equal(t, md5Hex("hello world"), sent.MD5OfBody)

	resp, body = sqsCall(t, srv, "/orders", url.Values{
		"Action":              {"ReceiveMessage"},
		"MaxNumberOfMessages": {"1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var received ReceiveMessageResponse
	decodeXML(t, body, &received)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, sent.MessageID, received.Messages[0].MessageID)
	assert.Equal(t, "hello world", received.Messages[0].Body)
	assert.NotEmpty(t, received.Messages[0].ReceiptHandle)

	resp, body = sqsCall(t, srv, "/orders", url.Values{
		"Action":        {"DeleteMessage"},
		"ReceiptHandle": {received.Messages[0].ReceiptHandle},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func TestQueueUrlParameterResolvesQueue(t *testing.T) {
	srv := newTestServer(t)

	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	// SDKs post to the endpoint root with the queue URL as a parameter.
	resp, body := sqsCall(t, srv, "/", url.Values{
		"Action":      {"SendMessage"},
		"QueueUrl":    {srv.URL + "/orders"},
		"MessageBody": {"via queue url"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func TestNonExistentQueueError(t *testing.T) {
	srv := newTestServer(t)

	resp, body := sqsCall(t, srv, "/ghost", url.Values{
		"Action":      {"SendMessage"},
		"MessageBody": {"x"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	decodeXML(t, body, &errResp)
	assert.Equal(t, "AWS.SimpleQueueService.NonExistentQueue", errResp.Error.Code)
	assert.Equal(t, "Sender", errResp.Error.Type)
}

func TestInvalidActionError(t *testing.T) {
	srv := newTestServer(t)
	resp, body := sqsCall(t, srv, "/", url.Values{"Action": {"TeleportMessage"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp ErrorResponse
	decodeXML(t, body, &errResp)
	assert.Equal(t, "InvalidAction", errResp.Error.Code)
}

func TestMissingActionError(t *testing.T) {
	srv := newTestServer(t)
	resp, body := sqsCall(t, srv, "/", url.Values{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp ErrorResponse
	decodeXML(t, body, &errResp)
	assert.Equal(t, "MissingParameter", errResp.Error.Code)
}

func TestOversizedBodyRejectedWith413(t *testing.T) {
	srv := newTestServer(t)
	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	big := strings.Repeat("a", engine.MaxMessageBytes+1)
	resp, body := sqsCall(t, srv, "/orders", url.Values{
		"Action":      {"SendMessage"},
		"MessageBody": {big},
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var errResp ErrorResponse
	decodeXML(t, body, &errResp)
	assert.Equal(t, "InvalidParameterValue", errResp.Error.Code)
}

func TestListQueuesWithPrefix(t *testing.T) {
	srv := newTestServer(t)
	for _, name := range []string{"orders", "orders-dlq", "payments"} {
		_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {name}})
	}

	_, body := sqsCall(t, srv, "/", url.Values{"Action": {"ListQueues"}, "QueueNamePrefix": {"orders"}})
	var listed ListQueuesResponse
	decodeXML(t, body, &listed)
	require.Len(t, listed.QueueURLs, 2)

	_, body = sqsCall(t, srv, "/", url.Values{"Action": {"ListQueues"}})
	listed = ListQueuesResponse{}
	decodeXML(t, body, &listed)
	assert.Len(t, listed.QueueURLs, 3)
}

func TestGetAndSetQueueAttributes(t *testing.T) {
	srv := newTestServer(t)
	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	resp, body := sqsCall(t, srv, "/orders", url.Values{
		"Action":            {"SetQueueAttributes"},
		"Attribute.1.Name":  {"VisibilityTimeout"},
		"Attribute.1.Value": {"120"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	_, body = sqsCall(t, srv, "/orders", url.Values{"Action": {"GetQueueAttributes"}})
	var attrs GetQueueAttributesResponse
	decodeXML(t, body, &attrs)

	byName := make(map[string]string)
	for _, a := range attrs.Attributes {
		byName[a.Name] = a.Value
	}
	assert.Equal(t, "120", byName["VisibilityTimeout"])
	assert.Equal(t, "0", byName["ApproximateNumberOfMessages"])
	assert.Contains(t, byName, "CreatedTimestamp")
}

func TestSendMessageBatchOverWire(t *testing.T) {
	srv := newTestServer(t)
	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	resp, body := sqsCall(t, srv, "/orders", url.Values{
		"Action": {"SendMessageBatch"},
		"SendMessageBatchRequestEntry.1.Id":          {"a"},
		"SendMessageBatchRequestEntry.1.MessageBody": {"one"},
		"SendMessageBatchRequestEntry.2.Id":          {"b"},
		"SendMessageBatchRequestEntry.2.MessageBody": {""},
		"SendMessageBatchRequestEntry.3.Id":          {"c"},
		"SendMessageBatchRequestEntry.3.MessageBody": {"three"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var batch SendMessageBatchResponse
	decodeXML(t, body, &batch)
	require.Len(t, batch.Succeeded, 2)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "b", batch.Failed[0].ID)
	assert.True(t, batch.Failed[0].SenderFault)
}

func TestPurgeQueueOverWire(t *testing.T) {
	srv := newTestServer(t)
	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})
	_, _ = sqsCall(t, srv, "/orders", url.Values{"Action": {"SendMessage"}, "MessageBody": {"x"}})

	resp, _ := sqsCall(t, srv, "/orders", url.Values{"Action": {"PurgeQueue"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := sqsCall(t, srv, "/orders", url.Values{"Action": {"ReceiveMessage"}})
	var received ReceiveMessageResponse
	decodeXML(t, body, &received)
	assert.Empty(t, received.Messages)
}

func TestJSONProtocol(t *testing.T) {
	srv := newTestServer(t)

	call := func(target, payload string) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-amz-json-1.0")
		req.Header.Set("X-Amz-Target", "AmazonSQS."+target)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var sb strings.Builder
		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			sb.Write(buf[:n])
			if readErr != nil {
				break
			}
		}
		return resp, sb.String()
	}

	resp, body := call("CreateQueue", `{"QueueName":"orders"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "application/x-amz-json-1.0", resp.Header.Get("Content-Type"))
	var created struct {
		QueueURL string `json:"QueueUrl"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.True(t, strings.HasSuffix(created.QueueURL, "/orders"))

	resp, body = call("SendMessage", `{"QueueUrl":"`+srv.URL+`/orders","MessageBody":"json hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var sent struct {
		MessageID string `json:"MessageId"`
		MD5       string `json:"MD5OfMessageBody"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &sent))
	assert.NotEmpty(t, sent.MessageID)
	assert.Equal(t, md5Hex("json hello"), sent.MD5)

	resp, body = call("ReceiveMessage", `{"QueueUrl":"`+srv.URL+`/orders","MaxNumberOfMessages":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var received struct {
		Messages []struct {
			Body          string `json:"Body"`
			ReceiptHandle string `json:"ReceiptHandle"`
		} `json:"Messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &received))
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "json hello", received.Messages[0].Body)

	// Errors carry the JSON protocol's __type identifier.
	resp, body = call("SendMessage", `{"QueueUrl":"`+srv.URL+`/ghost","MessageBody":"x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var jsonErr struct {
		Type string `json:"__type"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &jsonErr))
	assert.Equal(t, "com.amazonaws.sqs#QueueDoesNotExist", jsonErr.Type)
}

func TestFifoSequenceNumberOverWire(t *testing.T) {
	srv := newTestServer(t)
	_, _ = sqsCall(t, srv, "/", url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders.fifo"}})

	_, _ = sqsCall(t, srv, "/orders.fifo", url.Values{"Action": {"SendMessage"}, "MessageBody": {"first"}})
	_, _ = sqsCall(t, srv, "/orders.fifo", url.Values{"Action": {"SendMessage"}, "MessageBody": {"second"}})

	_, body := sqsCall(t, srv, "/orders.fifo", url.Values{
		"Action":              {"ReceiveMessage"},
		"MaxNumberOfMessages": {"10"},
	})
	var received ReceiveMessageResponse
	decodeXML(t, body, &received)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, "first", received.Messages[0].Body)
	assert.Equal(t, "second", received.Messages[1].Body)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
