package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

// Notifier publishes the asynchronous follow-ups of domain operations.
type Notifier interface {
	ScheduleOrderExpiry(ctx context.Context, orderIdentifier string, delay time.Duration) error
	Notify(ctx context.Context, message mq.NotificationMessage) error
}

type TicketQuantity struct {
	TicketID uint `json:"ticket_id" form:"ticket_id" binding:"required"`
	Quantity int  `json:"quantity" form:"quantity" binding:"gte=0"`
}

type CreateOrderInput struct {
	EventID      uint             `json:"event_id" form:"event_id" binding:"required"`
	Tickets      []TicketQuantity `json:"tickets" form:"tickets" binding:"required,dive"`
	DiscountCode string           `json:"discount_code" form:"discount_code"`
}

type PromoResult struct {
	Discount  *model.DiscountCode `json:"discount,omitempty"`
	Access    *model.AccessCode   `json:"access,omitempty"`
	TicketIDs []uint              `json:"ticket_ids"`
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	// GetAndSetExpiry loads an order and expires it first if its deadline has passed.
	GetAndSetExpiry(ctx context.Context, identifier string) (*model.Order, error)
	ApplyPromo(ctx context.Context, eventID uint, code string) (*PromoResult, error)
}

type orderService struct {
	repo      repository.OrderRepo
	eventRepo repository.EventRepo
	notifier  Notifier
	logger    *zap.Logger

	expiry time.Duration
	now    func() time.Time
}

var _ OrderService = (*orderService)(nil)

func NewOrderService(orderRepo repository.OrderRepo, eventRepo repository.EventRepo,
	notifier Notifier, logger *zap.Logger, expiry time.Duration) *orderService {
	return &orderService{
		repo:      orderRepo,
		eventRepo: eventRepo,
		notifier:  notifier,
		logger:    logger,
		expiry:    expiry,
		now:       time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	event, err := s.eventRepo.GetByID(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	quantities := make(map[uint]int)
	for _, tq := range in.Tickets {
		if tq.Quantity > 0 {
			quantities[tq.TicketID] += tq.Quantity
		}
	}
	if len(quantities) == 0 {
		return nil, service.ValidationError("tickets", "no ticket selected")
	}
	ids := make([]uint, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	tickets, err := s.eventRepo.GetTickets(ctx, event.ID, ids)
	if err != nil {
		return nil, err
	}
	if len(tickets) != len(ids) {
		return nil, service.ValidationError("tickets", "contains a ticket of another event")
	}

	now := s.now()
	for _, ticket := range tickets {
		qty := quantities[ticket.ID]
		if qty < ticket.MinOrder || qty > ticket.MaxOrder {
			return nil, service.ValidationError("tickets",
				fmt.Sprintf("%s must be ordered in quantities of %d to %d", ticket.Name, ticket.MinOrder, ticket.MaxOrder))
		}
		if ticket.SalesStart.IsZero() || ticket.SalesEnd.IsZero() {
			continue
		}
		state, err := ClassifyWindow(ticket.SalesStart, ticket.SalesEnd, event.Timezone, now)
		if err != nil {
			return nil, err
		}
		if state != WindowNow {
			return nil, service.ValidationError("tickets", ticket.Name+" is not on sale")
		}
	}

	var discount *model.DiscountCode
	if code := strings.TrimSpace(in.DiscountCode); code != "" {
		discount, err = s.eventRepo.GetDiscountCode(ctx, event.ID, code)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if discount == nil || !discount.IsActive {
			return nil, service.ValidationError("discount_code", "is invalid")
		}
	}

	amount := 0.0
	lines := make([]model.OrderTicket, 0, len(tickets))
	for _, ticket := range tickets {
		qty := quantities[ticket.ID]
		amount += discountedPrice(ticket, discount) * float64(qty)
		lines = append(lines, model.OrderTicket{TicketID: ticket.ID, Quantity: qty})
	}
	if amount > 0 {
		fee, err := s.eventRepo.GetFeeByCurrency(ctx, event.PaymentCurrency)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		amount += serviceFee(amount, fee)
	}

	order := &model.Order{
		Identifier: uuid.NewString(),
		Status:     model.OrderInitialized,
		EventID:    event.ID,
		Amount:     math.Round(amount*100) / 100,
		Tickets:    lines,
		ExpiresAt:  now.Add(s.expiry),
	}
	if discount != nil {
		order.DiscountCode = discount.Code
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.notifier.ScheduleOrderExpiry(ctx, order.Identifier, s.expiry); err != nil {
		// reads still expire the order once its deadline passes
		s.logger.Warn("failed to schedule order expiry",
			zap.String("order", order.Identifier), zap.Error(err))
	}
	return order, nil
}

func discountedPrice(ticket model.Ticket, discount *model.DiscountCode) float64 {
	if discount == nil || !codeCoversTicket(discount.Tickets, ticket.ID) {
		return ticket.Price
	}
	switch discount.Type {
	case model.DiscountAmount:
		return math.Max(0, ticket.Price-discount.Value)
	case model.DiscountPercent:
		return ticket.Price * math.Max(0, 1-discount.Value/100)
	}
	return ticket.Price
}

func serviceFee(amount float64, fee *model.FeeSetting) float64 {
	if fee == nil {
		return 0
	}
	f := amount * fee.ServiceFee / 100
	if fee.MaximumFee > 0 && f > fee.MaximumFee {
		f = fee.MaximumFee
	}
	return f
}

// parseTicketIDs reads a comma separated id list; empty means every ticket.
func parseTicketIDs(csv string) []uint {
	var ids []uint
	for _, part := range strings.Split(csv, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err == nil && id > 0 {
			ids = append(ids, uint(id))
		}
	}
	return ids
}

func codeCoversTicket(csv string, ticketID uint) bool {
	ids := parseTicketIDs(csv)
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if id == ticketID {
			return true
		}
	}
	return false
}

func (s *orderService) GetAndSetExpiry(ctx context.Context, identifier string) (*model.Order, error) {
	order, err := s.getOrder(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() || !s.now().After(order.ExpiresAt) {
		return order, nil
	}

	expired, err := s.repo.Transition(ctx, identifier, model.OrderOpenStatuses, model.OrderExpired, repository.OrderFields{})
	if err != nil {
		return nil, fmt.Errorf("expire order %s: %w", identifier, err)
	}
	if expired {
		s.logger.Info("order expired", zap.String("order", identifier))
		order.Status = model.OrderExpired
		return order, nil
	}
	// another request finalized it first
	return s.getOrder(ctx, identifier)
}

func (s *orderService) getOrder(ctx context.Context, identifier string) (*model.Order, error) {
	order, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *orderService) ApplyPromo(ctx context.Context, eventID uint, code string) (*PromoResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, service.ValidationError("promo", "is required")
	}

	result := &PromoResult{TicketIDs: []uint{}}
	seen := make(map[uint]bool)
	addTickets := func(csv string) {
		for _, id := range parseTicketIDs(csv) {
			if !seen[id] {
				seen[id] = true
				result.TicketIDs = append(result.TicketIDs, id)
			}
		}
	}

	discount, err := s.eventRepo.GetDiscountCode(ctx, eventID, code)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if discount != nil && discount.IsActive {
		result.Discount = discount
		addTickets(discount.Tickets)
	}

	access, err := s.eventRepo.GetAccessCode(ctx, eventID, code)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if access != nil {
		result.Access = access
		addTickets(access.Tickets)
	}

	if result.Discount == nil && result.Access == nil {
		return nil, service.ErrNotFound
	}
	return result, nil
}
