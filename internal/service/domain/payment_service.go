package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/payment"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

type StripeGateway interface {
	Charge(ctx context.Context, req payment.StripeCharge) (string, error)
	ConnectAccount(ctx context.Context, code string) (*payment.StripeAccount, error)
}

type PayPalGateway interface {
	CreateCheckout(ctx context.Context, req payment.PayPalCheckoutRequest) (*payment.PayPalCheckout, error)
	Capture(ctx context.Context, paypalOrderID string) (string, error)
}

type ChargeLocker interface {
	// AcquireChargeLock fails with cache.ErrLockHeld while another charge runs.
	AcquireChargeLock(ctx context.Context, orderIdentifier string, ttl time.Duration) (func(), error)
}

type PaymentAction string

const (
	ActionStartStripe   PaymentAction = "start_stripe"
	ActionStartPayPal   PaymentAction = "start_paypal"
	ActionShowCompleted PaymentAction = "show_completed"
)

func (a PaymentAction) Valid() bool {
	return a == ActionStartStripe || a == ActionStartPayPal || a == ActionShowCompleted
}

type HolderInput struct {
	TicketID         uint   `json:"ticket_id" binding:"required"`
	FirstName        string `json:"firstname"`
	LastName         string `json:"lastname"`
	Email            string `json:"email" binding:"omitempty,email"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	Country          string `json:"country"`
	Occupation       string `json:"occupation"`
	OccupationDetail string `json:"occupation_detail"`
	Expertise        string `json:"expertise"`
	Gender           string `json:"gender"`
	WelcomeReception string `json:"welcome_reception"`
	Recruitment      string `json:"recruitment"`
}

type InitiatePaymentInput struct {
	Identifier string        `json:"identifier" binding:"required"`
	Email      string        `json:"email" binding:"required,email"`
	FirstName  string        `json:"firstname"`
	LastName   string        `json:"lastname"`
	Holders    []HolderInput `json:"holders" binding:"dive"`
}

type InitiatePaymentResult struct {
	Email       string        `json:"email"`
	Action      PaymentAction `json:"action"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Order       *model.Order  `json:"-"`
}

type ChargePayload struct {
	Identifier string `json:"identifier" binding:"required"`
	// StripePaymentMethod is the payment method id collected by Stripe.js
	StripePaymentMethod string `json:"stripe_payment_method"`
	// PayPalOrderID defaults to the checkout opened by InitiatePayment
	PayPalOrderID string `json:"paypal_order_id"`
}

type ChargeResult struct {
	Order         *model.Order
	TransactionID string
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, in InitiatePaymentInput, method model.PaymentMethod) (*InitiatePaymentResult, error)
	Charge(ctx context.Context, method model.PaymentMethod, payload ChargePayload) (*ChargeResult, error)
	CancelPayPal(ctx context.Context, identifier string) (*model.Order, error)
	ConnectStripe(ctx context.Context, eventIdentifier, code string, viewer uint) (*model.Event, error)
}

type PaymentServiceDeps struct {
	DB         *gorm.DB
	Orders     OrderService
	OrderRepo  repository.OrderRepo
	EventRepo  repository.EventRepo
	HolderRepo repository.TicketHolderRepo
	Users      UserService
	Locker     ChargeLocker
	Notifier   Notifier
	// nil when the gateway is not configured
	Stripe StripeGateway
	PayPal PayPalGateway
	Logger *zap.Logger

	ChargeLockTTL time.Duration
	PublicURL     string
}

type paymentService struct {
	PaymentServiceDeps
	now func() time.Time
}

var _ PaymentService = (*paymentService)(nil)

func NewPaymentService(deps PaymentServiceDeps) *paymentService {
	return &paymentService{
		PaymentServiceDeps: deps,
		now:                time.Now,
	}
}

func (s *paymentService) InitiatePayment(ctx context.Context, in InitiatePaymentInput, method model.PaymentMethod) (*InitiatePaymentResult, error) {
	if !method.Valid() {
		return nil, service.ValidationError("payment_via", "must be stripe or paypal")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, service.ValidationError("email", "is required")
	}

	order, err := s.Orders.GetAndSetExpiry(ctx, in.Identifier)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, service.ErrOrderAlreadyFinalized
	}
	holders, err := holdersForOrder(order, in.Holders)
	if err != nil {
		return nil, err
	}

	buyer, err := s.Users.FindOrCreate(ctx, email, UserDefaults{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	})
	if err != nil {
		return nil, err
	}

	result := &InitiatePaymentResult{Email: buyer.User.Email, Order: order}
	target := model.OrderPending
	fields := repository.OrderFields{PaidVia: method}
	var checkout *payment.PayPalCheckout

	switch {
	case order.Amount <= 0:
		now := s.now()
		target = model.OrderPlaced
		fields = repository.OrderFields{CompletedAt: &now}
		result.Action = ActionShowCompleted
	case method == model.PayViaStripe:
		if s.Stripe == nil {
			return nil, notConfigured(method)
		}
		result.Action = ActionStartStripe
	case method == model.PayViaPayPal:
		if s.PayPal == nil {
			return nil, notConfigured(method)
		}
		checkout, err = s.PayPal.CreateCheckout(ctx, payment.PayPalCheckoutRequest{
			ReferenceID: order.Identifier,
			Amount:      order.Amount,
			Currency:    orderCurrency(order),
			Description: "Order " + order.InvoiceNumber(),
			ReturnURL:   s.paypalCallbackURL(order.Identifier, "success"),
			CancelURL:   s.paypalCallbackURL(order.Identifier, "cancel"),
		})
		if err != nil {
			return nil, gatewayError(method, err)
		}
		result.Action = ActionStartPayPal
		result.RedirectURL = checkout.RedirectURL
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderRepo := s.OrderRepo.WithTx(tx)
		holderRepo := s.HolderRepo.WithTx(tx)

		if err := orderRepo.AttachBuyer(ctx, order.ID, buyer.User.ID); err != nil {
			return err
		}
		if err := holderRepo.DeleteByOrderID(ctx, order.ID); err != nil {
			return err
		}
		if err := holderRepo.CreateBatch(ctx, holders); err != nil {
			return err
		}
		if checkout != nil {
			if err := orderRepo.SetPayPalOrderID(ctx, order.Identifier, checkout.OrderID); err != nil {
				return err
			}
		}
		moved, err := orderRepo.Transition(ctx, order.Identifier, model.OrderOpenStatuses, target, fields)
		if err != nil {
			return err
		}
		if !moved {
			return service.ErrOrderAlreadyFinalized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = target
	order.UserID = &buyer.User.ID
	order.User = buyer.User
	if target == model.OrderPlaced {
		s.notifyConfirmed(ctx, order)
	}
	return result, nil
}

// holdersForOrder checks that every holder row names a ticket of the order,
// no more often than it was ordered.
func holdersForOrder(order *model.Order, in []HolderInput) ([]model.TicketHolder, error) {
	remaining := make(map[uint]int, len(order.Tickets))
	for _, line := range order.Tickets {
		remaining[line.TicketID] += line.Quantity
	}

	holders := make([]model.TicketHolder, 0, len(in))
	for _, h := range in {
		if remaining[h.TicketID] <= 0 {
			return nil, service.ValidationError("holders", fmt.Sprintf("too many holders for ticket %d", h.TicketID))
		}
		remaining[h.TicketID]--
		holders = append(holders, model.TicketHolder{
			FirstName:        strings.TrimSpace(h.FirstName),
			LastName:         strings.TrimSpace(h.LastName),
			Email:            strings.TrimSpace(h.Email),
			Address:          strings.TrimSpace(h.Address),
			City:             strings.TrimSpace(h.City),
			State:            strings.TrimSpace(h.State),
			Country:          strings.TrimSpace(h.Country),
			TicketID:         h.TicketID,
			OrderID:          order.ID,
			Occupation:       strings.TrimSpace(h.Occupation),
			OccupationDetail: strings.TrimSpace(h.OccupationDetail),
			Expertise:        strings.TrimSpace(h.Expertise),
			Gender:           strings.TrimSpace(h.Gender),
			WelcomeReception: strings.TrimSpace(h.WelcomeReception),
			Recruitment:      strings.TrimSpace(h.Recruitment),
		})
	}
	return holders, nil
}

func (s *paymentService) Charge(ctx context.Context, method model.PaymentMethod, payload ChargePayload) (*ChargeResult, error) {
	if !method.Valid() {
		return nil, service.ValidationError("payment_via", "must be stripe or paypal")
	}

	release, err := s.Locker.AcquireChargeLock(ctx, payload.Identifier, s.ChargeLockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, service.ErrPaymentInProgress
		}
		return nil, err
	}
	defer release()

	order, err := s.Orders.GetAndSetExpiry(ctx, payload.Identifier)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, service.ErrOrderAlreadyFinalized
	}
	if order.Amount <= 0 {
		return nil, service.ValidationError("amount", "nothing to charge")
	}

	var transactionID string
	switch method {
	case model.PayViaStripe:
		transactionID, err = s.chargeStripe(ctx, order, payload)
	case model.PayViaPayPal:
		transactionID, err = s.capturePayPal(ctx, order, payload)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	moved, err := s.OrderRepo.Transition(ctx, order.Identifier, model.OrderOpenStatuses, model.OrderCompleted,
		repository.OrderFields{PaidVia: method, TransactionID: transactionID, CompletedAt: &now})
	if err != nil {
		return nil, err
	}
	if !moved {
		// money was taken for an order that is no longer open
		s.Logger.Error("charge succeeded but order was already finalized",
			zap.String("order", order.Identifier),
			zap.String("gateway", string(method)),
			zap.String("transaction_id", transactionID))
		return nil, service.ErrOrderAlreadyFinalized
	}

	order.Status = model.OrderCompleted
	order.PaidVia = method
	order.TransactionID = transactionID
	order.CompletedAt = &now
	s.Logger.Info("order completed",
		zap.String("order", order.Identifier),
		zap.String("gateway", string(method)),
		zap.String("transaction_id", transactionID))
	s.notifyConfirmed(ctx, order)

	return &ChargeResult{Order: order, TransactionID: transactionID}, nil
}

func (s *paymentService) chargeStripe(ctx context.Context, order *model.Order, payload ChargePayload) (string, error) {
	if s.Stripe == nil {
		return "", notConfigured(model.PayViaStripe)
	}
	paymentMethod := strings.TrimSpace(payload.StripePaymentMethod)
	if paymentMethod == "" {
		return "", service.ValidationError("stripe_payment_method", "is required")
	}
	req := payment.StripeCharge{
		Amount:          order.Amount,
		Currency:        orderCurrency(order),
		PaymentMethodID: paymentMethod,
		Description:     "Order " + order.InvoiceNumber(),
		IdempotencyKey:  "charge-" + order.Identifier + "-" + paymentMethod,
	}
	if order.Event != nil {
		req.ConnectedAccount = order.Event.StripeUserID
	}
	id, err := s.Stripe.Charge(ctx, req)
	if err != nil {
		return "", gatewayError(model.PayViaStripe, err)
	}
	return id, nil
}

func (s *paymentService) capturePayPal(ctx context.Context, order *model.Order, payload ChargePayload) (string, error) {
	if s.PayPal == nil {
		return "", notConfigured(model.PayViaPayPal)
	}
	paypalOrderID := strings.TrimSpace(payload.PayPalOrderID)
	if paypalOrderID == "" {
		paypalOrderID = order.PayPalOrderID
	}
	if paypalOrderID == "" {
		return "", service.ValidationError("paypal_order_id", "no PayPal checkout was started")
	}
	id, err := s.PayPal.Capture(ctx, paypalOrderID)
	if err != nil {
		return "", gatewayError(model.PayViaPayPal, err)
	}
	return id, nil
}

func (s *paymentService) CancelPayPal(ctx context.Context, identifier string) (*model.Order, error) {
	order, err := s.Orders.GetAndSetExpiry(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderExpired {
		return nil, service.ErrNotFound
	}
	if order.Status.Paid() {
		return nil, service.ErrOrderAlreadyFinalized
	}

	moved, err := s.OrderRepo.Transition(ctx, identifier, model.OrderOpenStatuses, model.OrderExpired, repository.OrderFields{})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, service.ErrOrderAlreadyFinalized
	}
	order.Status = model.OrderExpired
	return order, nil
}

func (s *paymentService) ConnectStripe(ctx context.Context, eventIdentifier, code string, viewer uint) (*model.Event, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, service.ValidationError("code", "is required")
	}
	if s.Stripe == nil {
		return nil, notConfigured(model.PayViaStripe)
	}

	event, err := s.EventRepo.GetByIdentifier(ctx, eventIdentifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	if viewer == 0 {
		return nil, service.ErrForbidden
	}
	allowed, err := s.EventRepo.HasAnyRole(ctx, viewer, event.ID, model.RoleOrganizer, model.RoleCoorganizer)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, service.ErrForbidden
	}

	account, err := s.Stripe.ConnectAccount(ctx, code)
	if err != nil {
		return nil, gatewayError(model.PayViaStripe, err)
	}
	if err := s.EventRepo.UpdateStripeAccount(ctx, event.ID, account.UserID, account.AccessToken, account.PublishableKey); err != nil {
		return nil, err
	}
	event.StripeUserID = account.UserID
	event.StripeAccessToken = account.AccessToken
	event.StripePublishableKey = account.PublishableKey
	return event, nil
}

func (s *paymentService) notifyConfirmed(ctx context.Context, order *model.Order) {
	msg := mq.NotificationMessage{
		Kind:            mq.NotifyOrderConfirmed,
		OrderIdentifier: order.Identifier,
		EventID:         order.EventID,
	}
	if order.User != nil {
		msg.Email = order.User.Email
	}
	if err := s.Notifier.Notify(ctx, msg); err != nil {
		s.Logger.Warn("failed to publish order confirmation",
			zap.String("order", order.Identifier), zap.Error(err))
	}
}

func (s *paymentService) paypalCallbackURL(identifier, function string) string {
	return strings.TrimRight(s.PublicURL, "/") + "/orders/paypal/" + identifier + "/" + function + "/"
}

func orderCurrency(order *model.Order) string {
	if order.Event != nil && order.Event.PaymentCurrency != "" {
		return order.Event.PaymentCurrency
	}
	return "USD"
}

func gatewayError(method model.PaymentMethod, err error) error {
	var declined *payment.DeclinedError
	if errors.As(err, &declined) {
		return &service.PaymentError{Gateway: method, Message: declined.Message, Err: err}
	}
	return &service.PaymentError{Gateway: method, Message: "the payment could not be processed, please try again", Err: err}
}

func notConfigured(method model.PaymentMethod) error {
	return &service.PaymentError{Gateway: method, Message: string(method) + " is not available", Err: payment.ErrNotConfigured}
}
