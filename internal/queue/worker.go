package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/compass/backend/internal/timing"
	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
)

// Consumer is the part of an AMQP channel used to consume.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// MetricsSource reports and resets model usage between jobs.
type MetricsSource interface {
	GetMetrics() ai.ModelMetrics
	ResetMetrics()
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Worker feeds deliveries from all job queues into one loop so that jobs
// run strictly one at a time.
type Worker struct {
	handler   *Handler
	publisher Publisher
	metrics   MetricsSource
}

// NewWorker builds a worker. metrics may be nil.
func NewWorker(h *Handler, publisher Publisher, metrics MetricsSource) *Worker {
	return &Worker{handler: h, publisher: publisher, metrics: metrics}
}

// Run consumes queueNames until ctx is done. The consumer channel should have
// a prefetch of 1.
func (w *Worker) Run(ctx context.Context, consumer Consumer, queueNames []string) error {
	messageChan := make(chan queuedMessage)

	for _, queueName := range queueNames {
		msgs, err := consumer.Consume(
			queueName,
			fmt.Sprintf("%s_consumer", queueName),
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queueName, err)
		}

		go func(qName string, msgs <-chan amqp091.Delivery) {
			for {
				select {
				case <-ctx.Done():
					logger.Info("[Queue] Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName, msgs)
	}

	logger.Info("[Queue] Listening for messages", "queues", queueNames)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			return nil
		case qm := <-messageChan:
			w.process(ctx, qm)
		}
	}
}

func (w *Worker) process(ctx context.Context, qm queuedMessage) {
	startTime := time.Now()
	logger.Info("[Queue] Received message", "queue", qm.queueName)

	if err := w.handler.Handle(ctx, qm.queueName, qm.msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
		RetryOrDeadLetter(ctx, w.publisher, qm.msg, qm.queueName)
	} else {
		if err := qm.msg.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
		logger.Info("[Queue] Message processed successfully", "queue", qm.queueName)
	}

	if w.metrics != nil {
		metrics := w.metrics.GetMetrics()
		logger.Info(
			"[Queue] AI Metrics",
			"input_tokens", metrics.InputTokens,
			"output_tokens", metrics.OutputTokens,
			"total_tokens", metrics.TotalTokens,
			"duration", timing.Millis(metrics.DurationMs),
		)
		w.metrics.ResetMetrics()
	}
	logger.Info("[Queue] Processing time", "duration", timing.Clock(time.Since(startTime)))
	logger.Info("[Queue] Waiting for next message")
}
