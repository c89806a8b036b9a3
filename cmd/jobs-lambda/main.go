package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/subscriptly/billing/internal/app"
	"github.com/subscriptly/billing/internal/queue"
	"go.uber.org/zap"
)

var billing *app.App

func init() {
	logger, err := app.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	// Initialize dependencies once per container.
	billing, err = app.New(context.Background(), logger)
	if err != nil {
		logger.Fatal("failed to start billing engine", zap.Error(err))
	}
}

// HandleRequest runs every job in the batch. Failed messages are reported
// individually so SQS redelivers only those.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	logger := billing.Logger
	var resp events.SQSEventResponse

	for _, message := range sqsEvent.Records {
		job, err := queue.Decode([]byte(message.Body))
		if err != nil {
			// Redelivering a malformed body cannot succeed.
			logger.Error("dropping malformed job", zap.String("message_id", message.MessageId), zap.Error(err))
			continue
		}

		if err := billing.Jobs.Handle(ctx, job); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}
		logger.Debug("job handled", zap.String("message_id", message.MessageId), zap.String("job", job.Name))
	}
	return resp, nil
}

func main() {
	lambda.Start(HandleRequest)
}
