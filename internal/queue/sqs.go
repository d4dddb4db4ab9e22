package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSManager is the at-least-once work queue backend. Items that are
// received but never acked reappear after the visibility timeout, which
// is what makes dispatch retries work without any local bookkeeping.
type SQSManager struct {
	Client   *sqs.Client
	QueueURL string
}

func NewSQSManager(client *sqs.Client, queueURL string) *SQSManager {
	return &SQSManager{
		Client:   client,
		QueueURL: queueURL,
	}
}

func (m *SQSManager) Enqueue(ctx context.Context, jobID string) error {
	_, err := m.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(m.QueueURL),
		MessageBody: aws.String(jobID),
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (m *SQSManager) Receive(ctx context.Context) ([]Item, error) {
	output, err := m.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(m.QueueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   300, // 5 minutes
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(output.Messages))
	for _, msg := range output.Messages {
		items = append(items, Item{
			JobID:  aws.ToString(msg.Body),
			Handle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return items, nil
}

func (m *SQSManager) Ack(ctx context.Context, item Item) error {
	_, err := m.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.QueueURL),
		ReceiptHandle: aws.String(item.Handle),
	})
	return err
}
