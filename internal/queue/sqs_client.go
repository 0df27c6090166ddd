package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const (
	defaultRegion   = "us-east-1"
	longPollSeconds = 20
	maxBatch        = 10
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSClient sends and receives analysis jobs through AWS SQS.
type SQSClient struct {
	client   sqsAPI
	queueURL string
}

// NewSQSClient constructs an SQS-backed queue client.
func NewSQSClient(ctx context.Context, queueURL, region string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	region = strings.TrimSpace(region)
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSClient(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSClient(api sqsAPI, queueURL string) *SQSClient {
	return &SQSClient{client: api, queueURL: queueURL}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages.
func (s *SQSClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > maxBatch {
		max = maxBatch
	}
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     longPollSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		deliveries = append(deliveries, Delivery{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return deliveries, nil
}

// Delete acknowledges a message so it is not redelivered.
func (s *SQSClient) Delete(ctx context.Context, receiptHandle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)
