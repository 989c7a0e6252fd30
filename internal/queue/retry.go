package queue

import (
	"context"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
)

// MaxRetries is the number of redeliveries before a job is dead-lettered.
const MaxRetries = 10

const retriesHeader = "x-retries"

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RetryOrDeadLetter republishes a failed message to the retry queue with an
// incremented retry header, or to the dead-letter queue once MaxRetries is
// reached. The original delivery is acked after a successful publish and
// requeued otherwise.
func RetryOrDeadLetter(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if retries >= MaxRetries {
		target = queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", target)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	if err := PublishFIFO(ctx, ch, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
