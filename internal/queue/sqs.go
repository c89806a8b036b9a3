package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue publishes and consumes jobs through AWS SQS. A failed job is left
// on the queue and redelivered after its visibility timeout.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

var (
	_ Publisher = (*SQSQueue)(nil)
	_ Consumer  = (*SQSQueue)(nil)
)

func NewSQSQueue(client SQSAPI, queueURL string, logger *zap.Logger) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger.Named("queue")}
}

func (q *SQSQueue) Publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job for SQS: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}

func (q *SQSQueue) Consume(ctx context.Context, handle func(context.Context, Job) error) error {
	for ctx.Err() == nil {
		if err := q.poll(ctx, handle); err != nil {
			return err
		}
	}
	return nil
}

func (q *SQSQueue) poll(ctx context.Context, handle func(context.Context, Job) error) error {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("receive from SQS: %w", err)
	}

	for _, msg := range out.Messages {
		job, err := Decode([]byte(aws.ToString(msg.Body)))
		if err != nil {
			q.logger.Error("dropping malformed job", zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
			q.delete(ctx, msg.ReceiptHandle)
			continue
		}
		if err := handle(ctx, job); err != nil {
			q.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		q.delete(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receipt *string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		q.logger.Warn("failed to delete SQS message", zap.Error(err))
	}
}
