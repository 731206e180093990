package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
)

type EventRepo interface {
	WithTx(tx *gorm.DB) EventRepo
	Create(ctx context.Context, event *model.Event) error
	GetByID(ctx context.Context, id uint) (*model.Event, error)
	GetByIdentifier(ctx context.Context, identifier string) (*model.Event, error)
	GetCallForPaper(ctx context.Context, eventID uint) (*model.CallForPaper, error)
	GetCallForPaperByHash(ctx context.Context, hash string) (*model.CallForPaper, error)
	SaveCallForPaper(ctx context.Context, cfp *model.CallForPaper) error
	HasAnyRole(ctx context.Context, userID, eventID uint, roles ...model.EventRole) (bool, error)
	GetTickets(ctx context.Context, eventID uint, ids []uint) ([]model.Ticket, error)
	GetDiscountCode(ctx context.Context, eventID uint, code string) (*model.DiscountCode, error)
	GetAccessCode(ctx context.Context, eventID uint, code string) (*model.AccessCode, error)
	GetFeeByCurrency(ctx context.Context, currency string) (*model.FeeSetting, error)
	UpdateStripeAccount(ctx context.Context, eventID uint, userID, accessToken, publishableKey string) error
}

type eventRepoGorm struct {
	db *gorm.DB
}

var _ EventRepo = (*eventRepoGorm)(nil)

func NewEventRepoGorm(db *gorm.DB) *eventRepoGorm {
	return &eventRepoGorm{
		db: db,
	}
}

func (r *eventRepoGorm) WithTx(tx *gorm.DB) EventRepo {
	return &eventRepoGorm{
		db: tx,
	}
}

func (r *eventRepoGorm) Create(ctx context.Context, event *model.Event) error {
	return gorm.G[model.Event](r.db).Create(ctx, event)
}

func (r *eventRepoGorm) GetByID(ctx context.Context, id uint) (*model.Event, error) {
	event, err := gorm.G[model.Event](r.db).Where("id = ?", id).First(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepoGorm) GetByIdentifier(ctx context.Context, identifier string) (*model.Event, error) {
	var event model.Event
	err := r.db.WithContext(ctx).
		Preload("Sponsors").
		Preload("Tickets").
		Where(&model.Event{Identifier: identifier}).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepoGorm) GetCallForPaper(ctx context.Context, eventID uint) (*model.CallForPaper, error) {
	cfp, err := gorm.G[model.CallForPaper](r.db).Where("event_id = ?", eventID).First(ctx)
	if err != nil {
		return nil, err
	}
	return &cfp, nil
}

func (r *eventRepoGorm) GetCallForPaperByHash(ctx context.Context, hash string) (*model.CallForPaper, error) {
	cfp, err := gorm.G[model.CallForPaper](r.db).Where("hash = ?", hash).First(ctx)
	if err != nil {
		return nil, err
	}
	return &cfp, nil
}

func (r *eventRepoGorm) SaveCallForPaper(ctx context.Context, cfp *model.CallForPaper) error {
	return r.db.WithContext(ctx).Save(cfp).Error
}

func (r *eventRepoGorm) HasAnyRole(ctx context.Context, userID, eventID uint, roles ...model.EventRole) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UserEventRole{}).
		Where("user_id = ? AND event_id = ? AND role IN ?", userID, eventID, roles).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *eventRepoGorm) GetTickets(ctx context.Context, eventID uint, ids []uint) ([]model.Ticket, error) {
	return gorm.G[model.Ticket](r.db).Where("event_id = ? AND id IN ?", eventID, ids).Find(ctx)
}

func (r *eventRepoGorm) GetDiscountCode(ctx context.Context, eventID uint, code string) (*model.DiscountCode, error) {
	dc, err := gorm.G[model.DiscountCode](r.db).Where("event_id = ? AND code = ?", eventID, code).First(ctx)
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

func (r *eventRepoGorm) GetAccessCode(ctx context.Context, eventID uint, code string) (*model.AccessCode, error) {
	ac, err := gorm.G[model.AccessCode](r.db).Where("event_id = ? AND code = ?", eventID, code).First(ctx)
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

func (r *eventRepoGorm) GetFeeByCurrency(ctx context.Context, currency string) (*model.FeeSetting, error) {
	fee, err := gorm.G[model.FeeSetting](r.db).Where("currency = ?", currency).First(ctx)
	if err != nil {
		return nil, err
	}
	return &fee, nil
}

func (r *eventRepoGorm) UpdateStripeAccount(ctx context.Context, eventID uint, userID, accessToken, publishableKey string) error {
	return r.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"stripe_user_id":         userID,
			"stripe_access_token":    accessToken,
			"stripe_publishable_key": publishableKey,
		}).Error
}
