package mq

// Queue names and message definitions

// delay queue from order service to order workflow
// deliver message to expire an order once its deadline has passed
const (
	OrderExpiryDelayQueue        = "order.expiry.delay"
	OrderExpiryTimeoutQueue      = "order.expiry.immediate"
	OrderExpiryTimeoutExchange   = "order.expiry.exchange"
	OrderExpiryTimeoutRoutingKey = "order.expiry"
)

type OrderExpiryMessage struct {
	OrderIdentifier string `json:"order_identifier"`
}

// immediate queue from domain services to notification workflow
const (
	NotificationImmediateQueue = "notification.immediate"
)

type NotificationKind string

const (
	NotifyOrderConfirmed  NotificationKind = "order_confirmed"
	NotifySpeakerModified NotificationKind = "speaker_modified"
)

type NotificationMessage struct {
	Kind            NotificationKind `json:"kind"`
	OrderIdentifier string           `json:"order_identifier,omitempty"`
	Email           string           `json:"email,omitempty"`
	EventID         uint             `json:"event_id,omitempty"`
	SpeakerID       uint             `json:"speaker_id,omitempty"`
}
