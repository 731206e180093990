package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func SendImmediateMessage(ctx context.Context, ch *amqp.Channel, queueName string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to queue %s: %w", queueName, err)
	}

	return nil
}

// SendTimeoutMessage publishes to the delay queue; the message dead-letters
// to the timeout queue after delay.
func SendTimeoutMessage(ctx context.Context, ch *amqp.Channel, delayQueueName string, message any, delay time.Duration) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	err = ch.PublishWithContext(
		ctx,
		"",
		delayQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to queue %s: %w", delayQueueName, err)
	}

	return nil
}

// Publisher sends the messages domain services emit. A channel is not safe
// for concurrent publishing, so calls are serialized.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := NewChannel(conn)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) ScheduleOrderExpiry(ctx context.Context, orderIdentifier string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SendTimeoutMessage(ctx, p.ch, OrderExpiryDelayQueue, OrderExpiryMessage{
		OrderIdentifier: orderIdentifier,
	}, delay)
}

func (p *Publisher) Notify(ctx context.Context, message NotificationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SendImmediateMessage(ctx, p.ch, NotificationImmediateQueue, message)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
