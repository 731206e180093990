package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
)

type OrderRepo interface {
	WithTx(tx *gorm.DB) OrderRepo
	Create(ctx context.Context, order *model.Order) error
	GetByIdentifier(ctx context.Context, identifier string) (*model.Order, error)
	// Transition moves the order to `to` only if its status is one of `from`.
	// It reports whether a row was changed.
	Transition(ctx context.Context, identifier string, from []model.OrderStatus, to model.OrderStatus, fields OrderFields) (bool, error)
	AttachBuyer(ctx context.Context, orderID, userID uint) error
	SetPayPalOrderID(ctx context.Context, identifier, paypalOrderID string) error
}

// OrderFields are optional columns written together with a status change.
type OrderFields struct {
	PaidVia       model.PaymentMethod
	TransactionID string
	CompletedAt   *time.Time
}

type orderRepoGorm struct {
	db *gorm.DB
}

var _ OrderRepo = (*orderRepoGorm)(nil)

func NewOrderRepoGorm(db *gorm.DB) *orderRepoGorm {
	return &orderRepoGorm{
		db: db,
	}
}

func (r *orderRepoGorm) WithTx(tx *gorm.DB) OrderRepo {
	return &orderRepoGorm{
		db: tx,
	}
}

func (r *orderRepoGorm) Create(ctx context.Context, order *model.Order) error {
	if err := gorm.G[model.Order](r.db).Create(ctx, order); err != nil {
		return err
	}
	return nil
}

func (r *orderRepoGorm) GetByIdentifier(ctx context.Context, identifier string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Event").
		Preload("User").
		Preload("Tickets").
		Where(&model.Order{Identifier: identifier}).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepoGorm) Transition(ctx context.Context, identifier string, from []model.OrderStatus, to model.OrderStatus, fields OrderFields) (bool, error) {
	updates := map[string]any{"status": to}
	if fields.PaidVia != "" {
		updates["paid_via"] = fields.PaidVia
	}
	if fields.TransactionID != "" {
		updates["transaction_id"] = fields.TransactionID
	}
	if fields.CompletedAt != nil {
		updates["completed_at"] = *fields.CompletedAt
	}
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("identifier = ? AND status IN ?", identifier, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepoGorm) AttachBuyer(ctx context.Context, orderID, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("user_id", userID).Error
}

func (r *orderRepoGorm) SetPayPalOrderID(ctx context.Context, identifier, paypalOrderID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("identifier = ?", identifier).
		Update("paypal_order_id", paypalOrderID).Error
}
