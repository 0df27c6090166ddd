package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received []*sqs.ReceiveMessageInput
	deleted  []string
	messages []types.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, f.err
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = append(f.received, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, f.err
}

func TestSQSClientSendEncodesMessage(t *testing.T) {
	fake := &fakeSQS{}
	client := newSQSClient(fake, "https://sqs.example/queue")

	require.NoError(t, client.Send(context.Background(), Message{AnalysisID: "a1", Version: MessageVersion}))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "https://sqs.example/queue", aws.ToString(fake.sent[0].QueueUrl))

	msg, err := DecodeMessage([]byte(aws.ToString(fake.sent[0].MessageBody)))
	require.NoError(t, err)
	assert.Equal(t, "a1", msg.AnalysisID)
}

func TestSQSClientReceiveLongPolls(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("rh1"),
		Body:          aws.String(`{"analysisId":"a1"}`),
	}}}
	client := newSQSClient(fake, "q")

	got, err := client.Receive(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, []Delivery{{ID: "m1", ReceiptHandle: "rh1", Body: `{"analysisId":"a1"}`}}, got)
	assert.Equal(t, int32(maxBatch), fake.received[0].MaxNumberOfMessages)
	assert.Equal(t, int32(longPollSeconds), fake.received[0].WaitTimeSeconds)
}

func TestSQSClientDeleteAndErrors(t *testing.T) {
	fake := &fakeSQS{}
	client := newSQSClient(fake, "q")
	require.NoError(t, client.Delete(context.Background(), "rh1"))
	assert.Equal(t, []string{"rh1"}, fake.deleted)

	fake.err = errors.New("throttled")
	_, err := client.Receive(context.Background(), 1)
	assert.ErrorContains(t, err, "sqs receive message")
	assert.ErrorContains(t, client.Send(context.Background(), Message{AnalysisID: "a"}), "sqs send message")
}

func TestNewSQSClientRequiresURL(t *testing.T) {
	_, err := NewSQSClient(context.Background(), " ", "")
	assert.Error(t, err)
}
