// qlite-smoke exercises a running qlite server through the official AWS
// SDK: create a queue, send, receive, delete, and tear the queue down
// again. Exits non-zero on the first failed step.
//
// Usage:
//
//	qlite-smoke [-endpoint http://localhost:3000] [-queue smoke-test]
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:3000", "qlite server endpoint")
	queueName := flag.String("queue", "smoke-test", "queue name to use")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("local"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build AWS config")
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(*endpoint)
	})

	created, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: queueName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("CreateQueue failed")
	}
	queueURL := created.QueueUrl
	log.Info().Str("queueUrl", aws.ToString(queueURL)).Msg("Queue created")

	body := "smoke test message"
	sent, err := client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    queueURL,
		MessageBody: aws.String(body),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("SendMessage failed")
	}
	log.Info().Str("messageId", aws.ToString(sent.MessageId)).Msg("Message sent")

	received, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     5,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ReceiveMessage failed")
	}
	if len(received.Messages) != 1 {
		log.Fatal().Int("count", len(received.Messages)).Msg("Expected exactly one message")
	}
	msg := received.Messages[0]
	if aws.ToString(msg.Body) != body {
		log.Fatal().
			Str("got", aws.ToString(msg.Body)).
			Str("want", body).
			Msg("Message body mismatch")
	}
	log.Info().Str("receiptHandle", aws.ToString(msg.ReceiptHandle)).Msg("Message received")

	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		log.Fatal().Err(err).Msg("DeleteMessage failed")
	}
	log.Info().Msg("Message deleted")

	if _, err := client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: queueURL}); err != nil {
		log.Fatal().Err(err).Msg("DeleteQueue failed")
	}
	log.Info().Msg("Queue deleted, smoke test passed")
}
