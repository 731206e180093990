package domain

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupOrderService(t *testing.T) (*orderService, *gorm.DB, *fakeNotifier) {
	t.Helper()
	db := setupTestDB(t)
	notifier := &fakeNotifier{}
	s := NewOrderService(repository.NewOrderRepoGorm(db), repository.NewEventRepoGorm(db), notifier, zap.NewNop(), 15*time.Minute)
	s.now = fixedClock(testNow)
	return s, db, notifier
}

func storedStatus(t *testing.T, db *gorm.DB, identifier string) model.OrderStatus {
	t.Helper()
	var order model.Order
	if err := db.Where("identifier = ?", identifier).First(&order).Error; err != nil {
		t.Fatalf("Failed to load order %s: %v", identifier, err)
	}
	return order.Status
}

func TestGetAndSetExpiry_ExpiresOverdueOrder(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	seedOrder(t, db, event, "ord-overdue", model.OrderPending, 40, testNow.Add(-time.Minute))

	order, err := s.GetAndSetExpiry(context.Background(), "ord-overdue")
	if err != nil {
		t.Fatalf("GetAndSetExpiry: %v", err)
	}
	if order.Status != model.OrderExpired {
		t.Fatalf("status = %s, want expired", order.Status)
	}

	// a second read changes nothing
	order, err = s.GetAndSetExpiry(context.Background(), "ord-overdue")
	if err != nil {
		t.Fatalf("GetAndSetExpiry again: %v", err)
	}
	if order.Status != model.OrderExpired {
		t.Fatalf("status after second read = %s, want expired", order.Status)
	}
	if got := storedStatus(t, db, "ord-overdue"); got != model.OrderExpired {
		t.Fatalf("stored status = %s, want expired", got)
	}
}

func TestGetAndSetExpiry_OneSecondPastDeadline(t *testing.T) {
	s, db, _ := setupOrderService(t)
	s.now = fixedClock(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	event := seedEvent(t, db, "summit")
	seedOrder(t, db, event, "ord-newyear", model.OrderPending, 40, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	order, err := s.GetAndSetExpiry(context.Background(), "ord-newyear")
	if err != nil {
		t.Fatalf("GetAndSetExpiry: %v", err)
	}
	if order.Status != model.OrderExpired {
		t.Fatalf("status = %s, want expired", order.Status)
	}
}

func TestGetAndSetExpiry_KeepsOpenOrderBeforeDeadline(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	seedOrder(t, db, event, "ord-open", model.OrderInitialized, 40, testNow.Add(time.Minute))

	order, err := s.GetAndSetExpiry(context.Background(), "ord-open")
	if err != nil {
		t.Fatalf("GetAndSetExpiry: %v", err)
	}
	if order.Status != model.OrderInitialized {
		t.Fatalf("status = %s, want initialized", order.Status)
	}
}

func TestGetAndSetExpiry_NeverExpiresPaidOrder(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	seedOrder(t, db, event, "ord-paid", model.OrderCompleted, 40, testNow.Add(-time.Hour))

	order, err := s.GetAndSetExpiry(context.Background(), "ord-paid")
	if err != nil {
		t.Fatalf("GetAndSetExpiry: %v", err)
	}
	if order.Status != model.OrderCompleted {
		t.Fatalf("status = %s, want completed", order.Status)
	}
}

func TestGetAndSetExpiry_UnknownOrder(t *testing.T) {
	s, _, _ := setupOrderService(t)

	_, err := s.GetAndSetExpiry(context.Background(), "missing")
	if !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateOrder_AppliesDiscountAndFee(t *testing.T) {
	s, db, notifier := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	discounted := &model.Ticket{EventID: event.ID, Name: "Early bird", Price: 20, MinOrder: 1, MaxOrder: 5}
	regular := &model.Ticket{EventID: event.ID, Name: "Regular", Price: 30, MinOrder: 1, MaxOrder: 5}
	mustCreate(t, db, discounted)
	mustCreate(t, db, regular)
	mustCreate(t, db, &model.DiscountCode{
		EventID: event.ID, Code: "HALF", Type: model.DiscountPercent, Value: 50, IsActive: true,
		Tickets: "0," + strconv.FormatUint(uint64(discounted.ID), 10),
	})
	mustCreate(t, db, &model.FeeSetting{Currency: "USD", ServiceFee: 10, MaximumFee: 5})

	order, err := s.CreateOrder(context.Background(), CreateOrderInput{
		EventID: event.ID,
		Tickets: []TicketQuantity{
			{TicketID: discounted.ID, Quantity: 2},
			{TicketID: regular.ID, Quantity: 1},
		},
		DiscountCode: " HALF ",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// 2*10 + 30 = 50, plus a 10% fee of 5
	if order.Amount != 55 {
		t.Errorf("amount = %v, want 55", order.Amount)
	}
	if order.Status != model.OrderInitialized {
		t.Errorf("status = %s, want initialized", order.Status)
	}
	if order.DiscountCode != "HALF" {
		t.Errorf("discount code = %q, want HALF", order.DiscountCode)
	}
	if !order.ExpiresAt.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("expires at = %s, want %s", order.ExpiresAt, testNow.Add(15*time.Minute))
	}
	if len(notifier.scheduled) != 1 || notifier.scheduled[0] != order.Identifier {
		t.Errorf("scheduled expiries = %v, want [%s]", notifier.scheduled, order.Identifier)
	}
}

func TestCreateOrder_CapsServiceFee(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	ticket := &model.Ticket{EventID: event.ID, Name: "VIP", Price: 200, MinOrder: 1, MaxOrder: 5}
	mustCreate(t, db, ticket)
	mustCreate(t, db, &model.FeeSetting{Currency: "USD", ServiceFee: 10, MaximumFee: 5})

	order, err := s.CreateOrder(context.Background(), CreateOrderInput{
		EventID: event.ID,
		Tickets: []TicketQuantity{{TicketID: ticket.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Amount != 205 {
		t.Fatalf("amount = %v, want 205", order.Amount)
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	other := seedEvent(t, db, "other")
	limited := &model.Ticket{EventID: event.ID, Name: "Workshop", Price: 10, MinOrder: 2, MaxOrder: 3}
	closed := &model.Ticket{
		EventID: event.ID, Name: "Last year", Price: 10, MinOrder: 1, MaxOrder: 3,
		SalesStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		SalesEnd:   time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	foreign := &model.Ticket{EventID: other.ID, Name: "Foreign", Price: 10, MinOrder: 1, MaxOrder: 3}
	mustCreate(t, db, limited)
	mustCreate(t, db, closed)
	mustCreate(t, db, foreign)

	tests := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{"no tickets", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: limited.ID}}}, service.ErrValidation},
		{"below minimum", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: limited.ID, Quantity: 1}}}, service.ErrValidation},
		{"above maximum", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: limited.ID, Quantity: 4}}}, service.ErrValidation},
		{"sales closed", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: closed.ID, Quantity: 1}}}, service.ErrValidation},
		{"ticket of another event", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: foreign.ID, Quantity: 1}}}, service.ErrValidation},
		{"unknown discount", CreateOrderInput{EventID: event.ID, Tickets: []TicketQuantity{{TicketID: limited.ID, Quantity: 2}}, DiscountCode: "NOPE"}, service.ErrValidation},
		{"unknown event", CreateOrderInput{EventID: 999, Tickets: []TicketQuantity{{TicketID: limited.ID, Quantity: 2}}}, service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateOrder(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	var count int64
	db.Model(&model.Order{}).Count(&count)
	if count != 0 {
		t.Fatalf("orders created = %d, want 0", count)
	}
}

func TestApplyPromo(t *testing.T) {
	s, db, _ := setupOrderService(t)
	event := seedEvent(t, db, "summit")
	mustCreate(t, db, &model.DiscountCode{EventID: event.ID, Code: "SPEAKER", Type: model.DiscountAmount, Value: 5, IsActive: true, Tickets: "1,2"})
	mustCreate(t, db, &model.AccessCode{EventID: event.ID, Code: "SPEAKER", Tickets: "2,3"})
	old := &model.DiscountCode{EventID: event.ID, Code: "OLD", Type: model.DiscountAmount, Value: 5, IsActive: true}
	mustCreate(t, db, old)
	// IsActive has a column default, so false must be written explicitly
	db.Model(old).Update("is_active", false)

	promo, err := s.ApplyPromo(context.Background(), event.ID, "SPEAKER")
	if err != nil {
		t.Fatalf("ApplyPromo: %v", err)
	}
	if promo.Discount == nil || promo.Access == nil {
		t.Fatalf("promo = %+v, want both discount and access", promo)
	}
	want := []uint{1, 2, 3}
	if len(promo.TicketIDs) != len(want) {
		t.Fatalf("ticket ids = %v, want %v", promo.TicketIDs, want)
	}
	for i := range want {
		if promo.TicketIDs[i] != want[i] {
			t.Fatalf("ticket ids = %v, want %v", promo.TicketIDs, want)
		}
	}

	if _, err := s.ApplyPromo(context.Background(), event.ID, "OLD"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("inactive code: err = %v, want ErrNotFound", err)
	}
	if _, err := s.ApplyPromo(context.Background(), event.ID, "SPEAKER2"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("unknown code: err = %v, want ErrNotFound", err)
	}
}
