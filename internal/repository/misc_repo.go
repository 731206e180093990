package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
)

type ImageSizesRepo interface {
	GetByType(ctx context.Context, typ string) (*model.ImageSizes, error)
	Create(ctx context.Context, sizes *model.ImageSizes) error
}

type imageSizesRepoGorm struct {
	db *gorm.DB
}

var _ ImageSizesRepo = (*imageSizesRepoGorm)(nil)

func NewImageSizesRepoGorm(db *gorm.DB) *imageSizesRepoGorm {
	return &imageSizesRepoGorm{db: db}
}

func (r *imageSizesRepoGorm) GetByType(ctx context.Context, typ string) (*model.ImageSizes, error) {
	sizes, err := gorm.G[model.ImageSizes](r.db).Where("type = ?", typ).First(ctx)
	if err != nil {
		return nil, err
	}
	return &sizes, nil
}

func (r *imageSizesRepoGorm) Create(ctx context.Context, sizes *model.ImageSizes) error {
	return gorm.G[model.ImageSizes](r.db).Create(ctx, sizes)
}

type ActivityRepo interface {
	Create(ctx context.Context, entry *model.ActivityLog) error
}

type activityRepoGorm struct {
	db *gorm.DB
}

var _ ActivityRepo = (*activityRepoGorm)(nil)

func NewActivityRepoGorm(db *gorm.DB) *activityRepoGorm {
	return &activityRepoGorm{db: db}
}

func (r *activityRepoGorm) Create(ctx context.Context, entry *model.ActivityLog) error {
	return gorm.G[model.ActivityLog](r.db).Create(ctx, entry)
}

type TicketHolderRepo interface {
	WithTx(tx *gorm.DB) TicketHolderRepo
	CreateBatch(ctx context.Context, holders []model.TicketHolder) error
	DeleteByOrderID(ctx context.Context, orderID uint) error
	GetByID(ctx context.Context, id uint) (*model.TicketHolder, error)
	// MarkCheckedIn reports false when the holder was already checked in.
	MarkCheckedIn(ctx context.Context, id uint) (bool, error)
}

type ticketHolderRepoGorm struct {
	db *gorm.DB
}

var _ TicketHolderRepo = (*ticketHolderRepoGorm)(nil)

func NewTicketHolderRepoGorm(db *gorm.DB) *ticketHolderRepoGorm {
	return &ticketHolderRepoGorm{db: db}
}

func (r *ticketHolderRepoGorm) WithTx(tx *gorm.DB) TicketHolderRepo {
	return &ticketHolderRepoGorm{db: tx}
}

func (r *ticketHolderRepoGorm) CreateBatch(ctx context.Context, holders []model.TicketHolder) error {
	if len(holders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&holders).Error
}

func (r *ticketHolderRepoGorm) DeleteByOrderID(ctx context.Context, orderID uint) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&model.TicketHolder{}).Error
}

func (r *ticketHolderRepoGorm) GetByID(ctx context.Context, id uint) (*model.TicketHolder, error) {
	var holder model.TicketHolder
	if err := r.db.WithContext(ctx).Preload("Order").First(&holder, id).Error; err != nil {
		return nil, err
	}
	return &holder, nil
}

func (r *ticketHolderRepoGorm) MarkCheckedIn(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.TicketHolder{}).
		Where("id = ? AND checked_in = ?", id, false).
		Update("checked_in", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
