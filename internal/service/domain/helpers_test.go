package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
)

// setupTestDB opens a private in-memory database. A single connection keeps
// every query on the same database, so repos must not be called outside a
// transaction while it is open.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func setupTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("Failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { redisCache.Close() })
	return redisCache
}

func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("Failed to create %T: %v", value, err)
	}
}

func seedEvent(t *testing.T, db *gorm.DB, identifier string) *model.Event {
	t.Helper()
	event := &model.Event{
		Identifier:         identifier,
		Name:               "Open Tech Summit",
		State:              model.EventPublished,
		PaymentCurrency:    "USD",
		HasSessionSpeakers: true,
	}
	mustCreate(t, db, event)
	return event
}

func seedUser(t *testing.T, db *gorm.DB, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, HashedPassword: "x"}
	mustCreate(t, db, user)
	return user
}

func seedOrder(t *testing.T, db *gorm.DB, event *model.Event, identifier string, status model.OrderStatus, amount float64, expiresAt time.Time) *model.Order {
	t.Helper()
	ticket := &model.Ticket{EventID: event.ID, Name: "Regular", Price: amount, MinOrder: 1, MaxOrder: 10}
	mustCreate(t, db, ticket)
	order := &model.Order{
		Identifier: identifier,
		Status:     status,
		EventID:    event.ID,
		Amount:     amount,
		ExpiresAt:  expiresAt,
		Tickets:    []model.OrderTicket{{TicketID: ticket.ID, Quantity: 2}},
	}
	mustCreate(t, db, order)
	return order
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

type fakeNotifier struct {
	mu        sync.Mutex
	scheduled []string
	messages  []mq.NotificationMessage
}

func (n *fakeNotifier) ScheduleOrderExpiry(ctx context.Context, orderIdentifier string, delay time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, orderIdentifier)
	return nil
}

func (n *fakeNotifier) Notify(ctx context.Context, message mq.NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) kinds() []mq.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]mq.NotificationKind, 0, len(n.messages))
	for _, m := range n.messages {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}
