package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/qs-lzh/open-event/internal/mailer"
	"github.com/qs-lzh/open-event/internal/mq"
)

type SpeakerCacheInvalidator interface {
	InvalidateEventSpeakers(ctx context.Context, eventID uint) error
}

type NotificationWorkflow struct {
	mailer       mailer.Mailer
	speakerCache SpeakerCacheInvalidator
	publicURL    string
	logger       *zap.Logger
}

func NewNotificationWorkflow(m mailer.Mailer, speakerCache SpeakerCacheInvalidator, publicURL string, logger *zap.Logger) *NotificationWorkflow {
	return &NotificationWorkflow{
		mailer:       m,
		speakerCache: speakerCache,
		publicURL:    publicURL,
		logger:       logger,
	}
}

func (w *NotificationWorkflow) Start(ctx context.Context, mqConn *amqp.Connection) error {
	ch, err := mq.NewChannel(mqConn)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(mq.NotificationImmediateQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer ch.Close()
		for msg := range msgs {
			if err := w.handleNotification(ctx, msg); err != nil {
				w.logger.Error("failed to handle notification", zap.Error(err))
			}
		}
	}()

	return nil
}

func (w *NotificationWorkflow) handleNotification(ctx context.Context, msg amqp.Delivery) error {
	var message mq.NotificationMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		msg.Nack(false, false)
		return err
	}

	var err error
	switch message.Kind {
	case mq.NotifyOrderConfirmed:
		err = w.sendOrderConfirmation(ctx, message)
	case mq.NotifySpeakerModified:
		err = w.speakerCache.InvalidateEventSpeakers(ctx, message.EventID)
	default:
		msg.Nack(false, false)
		return fmt.Errorf("unknown notification kind %q", message.Kind)
	}
	if err != nil {
		msg.Nack(false, true)
		return err
	}

	msg.Ack(false)
	return nil
}

func (w *NotificationWorkflow) sendOrderConfirmation(ctx context.Context, message mq.NotificationMessage) error {
	if message.Email == "" {
		w.logger.Warn("order confirmation without buyer email", zap.String("order", message.OrderIdentifier))
		return nil
	}
	link := fmt.Sprintf("%s/orders/%s/view/", w.publicURL, message.OrderIdentifier)
	body := fmt.Sprintf("Thank you for your order.\n\nYour tickets are available at %s\n", link)
	return w.mailer.Send(ctx, message.Email, "Your order "+message.OrderIdentifier+" is confirmed", body)
}
