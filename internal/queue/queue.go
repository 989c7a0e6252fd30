package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
)

const (
	IngestQueue  = "ingest_queue"
	ExtractQueue = "extract_queue"
	RelateQueue  = "relate_queue"
	RepairQueue  = "repair_queue"

	retryTTL     = 10 * time.Second
	dialAttempts = 5
)

// Queues lists every job queue the worker consumes.
var Queues = []string{IngestQueue, ExtractQueue, RelateQueue, RepairQueue}

// Declarer is the part of an AMQP channel used to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Publisher is the part of an AMQP channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Connect dials RabbitMQ, retrying while the broker starts up.
func Connect(ctx context.Context, cfg config.QueueConfig) (*amqp091.Connection, error) {
	return util.RetryWithBackoff(ctx, dialAttempts, time.Second, func(context.Context) (*amqp091.Connection, error) {
		conn, err := amqp091.Dial(cfg.URL())
		if err != nil {
			logger.Warn("[Queue] Failed to connect to RabbitMQ", "host", cfg.Host, "err", err)
			return nil, err
		}
		return conn, nil
	})
}

// SetupQueues declares each queue together with its dead-letter queue and a
// retry queue that hands messages back after retryTTL.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		if _, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryTTL.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}
	logger.Debug("[Queue] Queues declared", "queues", queueNames)
	return nil
}

func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}
