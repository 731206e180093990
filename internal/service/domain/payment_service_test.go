package domain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/payment"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

type fakeStripe struct {
	calls   atomic.Int64
	delay   time.Duration
	err     error
	account *payment.StripeAccount
}

func (f *fakeStripe) Charge(ctx context.Context, req payment.StripeCharge) (string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return "", f.err
	}
	return "pi_" + req.IdempotencyKey, nil
}

func (f *fakeStripe) ConnectAccount(ctx context.Context, code string) (*payment.StripeAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.account, nil
}

type fakePayPal struct {
	captured []string
}

func (f *fakePayPal) CreateCheckout(ctx context.Context, req payment.PayPalCheckoutRequest) (*payment.PayPalCheckout, error) {
	return &payment.PayPalCheckout{
		OrderID:     "PP-" + req.ReferenceID,
		RedirectURL: "https://paypal.test/approve?ref=" + req.ReferenceID + "&return=" + req.ReturnURL,
	}, nil
}

func (f *fakePayPal) Capture(ctx context.Context, paypalOrderID string) (string, error) {
	f.captured = append(f.captured, paypalOrderID)
	return "CAP-" + paypalOrderID, nil
}

type paymentFixture struct {
	svc      *paymentService
	db       *gorm.DB
	notifier *fakeNotifier
	stripe   *fakeStripe
	paypal   *fakePayPal
	event    *model.Event
}

func setupPaymentService(t *testing.T) *paymentFixture {
	t.Helper()
	db := setupTestDB(t)
	redisCache := setupTestCache(t)
	notifier := &fakeNotifier{}
	orderRepo := repository.NewOrderRepoGorm(db)
	eventRepo := repository.NewEventRepoGorm(db)

	orders := NewOrderService(orderRepo, eventRepo, notifier, zap.NewNop(), 15*time.Minute)
	orders.now = fixedClock(testNow)

	f := &paymentFixture{
		db:       db,
		notifier: notifier,
		stripe:   &fakeStripe{},
		paypal:   &fakePayPal{},
		event:    seedEvent(t, db, "summit"),
	}
	f.svc = NewPaymentService(PaymentServiceDeps{
		DB:            db,
		Orders:        orders,
		OrderRepo:     orderRepo,
		EventRepo:     eventRepo,
		HolderRepo:    repository.NewTicketHolderRepoGorm(db),
		Users:         NewUserService(repository.NewUserRepoGorm(db)),
		Locker:        redisCache,
		Notifier:      notifier,
		Stripe:        f.stripe,
		PayPal:        f.paypal,
		Logger:        zap.NewNop(),
		ChargeLockTTL: time.Minute,
		PublicURL:     "https://events.test/",
	})
	f.svc.now = fixedClock(testNow)
	return f
}

func (f *paymentFixture) order(t *testing.T, identifier string, status model.OrderStatus, amount float64) *model.Order {
	t.Helper()
	return seedOrder(t, f.db, f.event, identifier, status, amount, testNow.Add(10*time.Minute))
}

func (f *paymentFixture) load(t *testing.T, identifier string) *model.Order {
	t.Helper()
	var order model.Order
	if err := f.db.Preload("Holders").Where("identifier = ?", identifier).First(&order).Error; err != nil {
		t.Fatalf("Failed to load order %s: %v", identifier, err)
	}
	return &order
}

func holderInputs(order *model.Order, n int) []HolderInput {
	holders := make([]HolderInput, 0, n)
	for i := 0; i < n; i++ {
		holders = append(holders, HolderInput{TicketID: order.Tickets[0].TicketID, FirstName: "Ada", LastName: "Lovelace"})
	}
	return holders
}

func TestInitiatePayment_Stripe(t *testing.T) {
	f := setupPaymentService(t)
	order := f.order(t, "ord-stripe", model.OrderInitialized, 40)

	result, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		Identifier: order.Identifier,
		Email:      " Buyer@Example.com ",
		FirstName:  "Grace",
		Holders:    holderInputs(order, 2),
	}, model.PayViaStripe)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if result.Action != ActionStartStripe {
		t.Errorf("action = %s, want start_stripe", result.Action)
	}
	if result.Email != "buyer@example.com" {
		t.Errorf("email = %q, want buyer@example.com", result.Email)
	}

	stored := f.load(t, order.Identifier)
	if stored.Status != model.OrderPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if stored.PaidVia != model.PayViaStripe {
		t.Errorf("paid via = %s, want stripe", stored.PaidVia)
	}
	if stored.UserID == nil {
		t.Errorf("buyer was not attached")
	}
	if len(stored.Holders) != 2 {
		t.Errorf("holders = %d, want 2", len(stored.Holders))
	}
}

func TestInitiatePayment_PayPalRedirects(t *testing.T) {
	f := setupPaymentService(t)
	order := f.order(t, "ord-paypal", model.OrderInitialized, 40)

	result, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		Identifier: order.Identifier,
		Email:      "buyer@example.com",
	}, model.PayViaPayPal)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if result.Action != ActionStartPayPal {
		t.Errorf("action = %s, want start_paypal", result.Action)
	}
	if !strings.Contains(result.RedirectURL, "https://events.test/orders/paypal/ord-paypal/success/") {
		t.Errorf("redirect url = %q, want the success callback", result.RedirectURL)
	}
	if stored := f.load(t, order.Identifier); stored.PayPalOrderID != "PP-ord-paypal" {
		t.Errorf("paypal order id = %q, want PP-ord-paypal", stored.PayPalOrderID)
	}
}

func TestInitiatePayment_FreeOrderIsPlaced(t *testing.T) {
	f := setupPaymentService(t)
	order := f.order(t, "ord-free", model.OrderInitialized, 0)

	result, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		Identifier: order.Identifier,
		Email:      "buyer@example.com",
	}, model.PayViaStripe)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if result.Action != ActionShowCompleted {
		t.Errorf("action = %s, want show_completed", result.Action)
	}
	stored := f.load(t, order.Identifier)
	if stored.Status != model.OrderPlaced {
		t.Errorf("status = %s, want placed", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Errorf("completed at was not set")
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != mq.NotifyOrderConfirmed {
		t.Errorf("notifications = %v, want [order_confirmed]", kinds)
	}
	if f.stripe.calls.Load() != 0 {
		t.Errorf("stripe was charged for a free order")
	}
}

func TestInitiatePayment_RejectsWithoutSideEffects(t *testing.T) {
	f := setupPaymentService(t)
	order := f.order(t, "ord-bad", model.OrderInitialized, 40)
	f.order(t, "ord-done", model.OrderCompleted, 40)

	tests := []struct {
		name   string
		in     InitiatePaymentInput
		method model.PaymentMethod
		want   error
	}{
		{"unknown method", InitiatePaymentInput{Identifier: order.Identifier, Email: "a@example.com"}, "bitcoin", service.ErrValidation},
		{"too many holders", InitiatePaymentInput{Identifier: order.Identifier, Email: "a@example.com", Holders: holderInputs(order, 3)}, model.PayViaStripe, service.ErrValidation},
		{"completed order", InitiatePaymentInput{Identifier: "ord-done", Email: "a@example.com"}, model.PayViaStripe, service.ErrOrderAlreadyFinalized},
		{"unknown order", InitiatePaymentInput{Identifier: "missing", Email: "a@example.com"}, model.PayViaStripe, service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.InitiatePayment(context.Background(), tt.in, tt.method); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	stored := f.load(t, order.Identifier)
	if stored.Status != model.OrderInitialized || stored.UserID != nil || len(stored.Holders) != 0 {
		t.Fatalf("order was modified: status %s, user %v, holders %d", stored.Status, stored.UserID, len(stored.Holders))
	}
}

func TestCharge_Stripe(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-charge", model.OrderPending, 40)

	result, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-charge",
		StripePaymentMethod: "pm_card_visa",
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if result.TransactionID != "pi_charge-ord-charge-pm_card_visa" {
		t.Errorf("transaction id = %q", result.TransactionID)
	}
	stored := f.load(t, "ord-charge")
	if stored.Status != model.OrderCompleted || stored.TransactionID != result.TransactionID {
		t.Errorf("stored order = %s/%q, want completed/%q", stored.Status, stored.TransactionID, result.TransactionID)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != mq.NotifyOrderConfirmed {
		t.Errorf("notifications = %v, want [order_confirmed]", kinds)
	}
}

func TestCharge_DeclinedLeavesOrderOpen(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-declined", model.OrderPending, 40)
	f.stripe.err = &payment.DeclinedError{Message: "Your card was declined."}

	_, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-declined",
		StripePaymentMethod: "pm_card_chargeDeclined",
	})
	var paymentErr *service.PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("err = %v, want PaymentError", err)
	}
	if paymentErr.Message != "Your card was declined." {
		t.Errorf("message = %q", paymentErr.Message)
	}
	if stored := f.load(t, "ord-declined"); stored.Status != model.OrderPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}

	// the lock is released, so a retry reaches the gateway again
	f.stripe.err = nil
	if _, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-declined",
		StripePaymentMethod: "pm_card_visa",
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestCharge_GatewayNotConfigured(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-nostripe", model.OrderPending, 40)
	f.svc.Stripe = nil

	_, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-nostripe",
		StripePaymentMethod: "pm_card_visa",
	})
	if !errors.Is(err, payment.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestCharge_PayPalUsesStoredCheckout(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-pp", model.OrderPending, 40)
	f.db.Model(&model.Order{}).Where("identifier = ?", "ord-pp").Update("paypal_order_id", "PP-123")

	result, err := f.svc.Charge(context.Background(), model.PayViaPayPal, ChargePayload{Identifier: "ord-pp"})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if result.TransactionID != "CAP-PP-123" {
		t.Errorf("transaction id = %q, want CAP-PP-123", result.TransactionID)
	}
	if stored := f.load(t, "ord-pp"); stored.PaidVia != model.PayViaPayPal {
		t.Errorf("paid via = %s, want paypal", stored.PaidVia)
	}
}

type chargeResult struct {
	SuccessCount    int64
	FinalizedCount  int64
	InProgressCount int64
	OtherCount      int64
}

func TestCharge_ConcurrentRequestsCompleteOnce(t *testing.T) {
	const concurrency = 20

	f := setupPaymentService(t)
	f.order(t, "ord-race", model.OrderPending, 40)
	f.stripe.delay = 20 * time.Millisecond

	result := &chargeResult{}
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
				Identifier:          "ord-race",
				StripePaymentMethod: "pm_card_visa",
			})
			switch {
			case err == nil:
				atomic.AddInt64(&result.SuccessCount, 1)
			case errors.Is(err, service.ErrOrderAlreadyFinalized):
				atomic.AddInt64(&result.FinalizedCount, 1)
			case errors.Is(err, service.ErrPaymentInProgress):
				atomic.AddInt64(&result.InProgressCount, 1)
			default:
				atomic.AddInt64(&result.OtherCount, 1)
				t.Logf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if result.SuccessCount != 1 {
		t.Errorf("successful charges = %d, want 1", result.SuccessCount)
	}
	if rejected := result.FinalizedCount + result.InProgressCount; rejected != concurrency-1 || result.OtherCount != 0 {
		t.Errorf("rejected charges = %d (other errors %d), want %d", rejected, result.OtherCount, concurrency-1)
	}
	if calls := f.stripe.calls.Load(); calls != 1 {
		t.Errorf("gateway calls = %d, want 1", calls)
	}
	if stored := f.load(t, "ord-race"); stored.Status != model.OrderCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestCharge_LockHeldReportsPaymentInProgress(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-busy", model.OrderPending, 40)

	release, err := f.svc.Locker.AcquireChargeLock(context.Background(), "ord-busy", time.Minute)
	if err != nil {
		t.Fatalf("AcquireChargeLock: %v", err)
	}
	_, err = f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-busy",
		StripePaymentMethod: "pm_card_visa",
	})
	if !errors.Is(err, service.ErrPaymentInProgress) {
		t.Fatalf("err = %v, want ErrPaymentInProgress", err)
	}
	if stored := f.load(t, "ord-busy"); stored.Status != model.OrderPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}

	release()
	if _, err := f.svc.Charge(context.Background(), model.PayViaStripe, ChargePayload{
		Identifier:          "ord-busy",
		StripePaymentMethod: "pm_card_visa",
	}); err != nil {
		t.Fatalf("Charge after release: %v", err)
	}
}

func TestCancelPayPal(t *testing.T) {
	f := setupPaymentService(t)
	f.order(t, "ord-cancel", model.OrderPending, 40)
	f.order(t, "ord-paid", model.OrderCompleted, 40)

	order, err := f.svc.CancelPayPal(context.Background(), "ord-cancel")
	if err != nil {
		t.Fatalf("CancelPayPal: %v", err)
	}
	if order.Status != model.OrderExpired {
		t.Errorf("status = %s, want expired", order.Status)
	}

	if _, err := f.svc.CancelPayPal(context.Background(), "ord-cancel"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("second cancel: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.CancelPayPal(context.Background(), "ord-paid"); !errors.Is(err, service.ErrOrderAlreadyFinalized) {
		t.Errorf("paid order: err = %v, want ErrOrderAlreadyFinalized", err)
	}
	if _, err := f.svc.CancelPayPal(context.Background(), "missing"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("missing order: err = %v, want ErrNotFound", err)
	}
}

func TestConnectStripe(t *testing.T) {
	f := setupPaymentService(t)
	organizer := seedUser(t, f.db, "organizer@example.com")
	stranger := seedUser(t, f.db, "stranger@example.com")
	mustCreate(t, f.db, &model.UserEventRole{UserID: organizer.ID, EventID: f.event.ID, Role: model.RoleOrganizer})
	f.stripe.account = &payment.StripeAccount{UserID: "acct_1", AccessToken: "sk_connected", PublishableKey: "pk_connected"}

	if _, err := f.svc.ConnectStripe(context.Background(), "summit", "ac_code", stranger.ID); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("stranger: err = %v, want ErrForbidden", err)
	}

	event, err := f.svc.ConnectStripe(context.Background(), "summit", "ac_code", organizer.ID)
	if err != nil {
		t.Fatalf("ConnectStripe: %v", err)
	}
	if event.StripeUserID != "acct_1" {
		t.Errorf("stripe user id = %q, want acct_1", event.StripeUserID)
	}
	var stored model.Event
	f.db.First(&stored, f.event.ID)
	if stored.StripePublishableKey != "pk_connected" {
		t.Errorf("stored publishable key = %q, want pk_connected", stored.StripePublishableKey)
	}
}
