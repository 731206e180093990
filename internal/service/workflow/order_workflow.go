package workflow

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/service"
	"github.com/qs-lzh/open-event/internal/service/domain"
)

type OrderWorkflow struct {
	orderService domain.OrderService
	logger       *zap.Logger
}

func NewOrderWorkflow(orderService domain.OrderService, logger *zap.Logger) *OrderWorkflow {
	return &OrderWorkflow{
		orderService: orderService,
		logger:       logger,
	}
}

func (w *OrderWorkflow) Start(ctx context.Context, mqConn *amqp.Connection) error {
	if err := w.ConsumeOrderExpiry(ctx, mqConn); err != nil {
		return err
	}
	return nil
}

func (w *OrderWorkflow) ConsumeOrderExpiry(ctx context.Context, conn *amqp.Connection) error {
	ch, err := mq.NewChannel(conn)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(mq.OrderExpiryTimeoutQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer ch.Close()
		for msg := range msgs {
			if err := w.handleOrderExpiry(ctx, msg); err != nil {
				w.logger.Error("failed to handle order expiry", zap.Error(err))
			}
		}
	}()

	return nil
}

func (w *OrderWorkflow) handleOrderExpiry(ctx context.Context, msg amqp.Delivery) error {
	var message mq.OrderExpiryMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		msg.Nack(false, false)
		return err
	}

	order, err := w.orderService.GetAndSetExpiry(ctx, message.OrderIdentifier)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			msg.Ack(false)
			return nil
		}
		// expiry is idempotent, so redelivery is safe
		msg.Nack(false, true)
		return err
	}

	if order.Status == model.OrderExpired {
		w.logger.Debug("order expiry processed", zap.String("order", order.Identifier))
	}
	msg.Ack(false)

	return nil
}
