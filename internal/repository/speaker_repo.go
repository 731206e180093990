package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/model"
)

type SpeakerRepo interface {
	WithTx(tx *gorm.DB) SpeakerRepo
	Create(ctx context.Context, speaker *model.Speaker) error
	Save(ctx context.Context, speaker *model.Speaker) error
	Delete(ctx context.Context, id uint) error
	GetByID(ctx context.Context, id uint) (*model.Speaker, error)
	ListByEventID(ctx context.Context, eventID uint) ([]model.Speaker, error)
}

type speakerRepoGorm struct {
	db *gorm.DB
}

var _ SpeakerRepo = (*speakerRepoGorm)(nil)

func NewSpeakerRepoGorm(db *gorm.DB) *speakerRepoGorm {
	return &speakerRepoGorm{
		db: db,
	}
}

func (r *speakerRepoGorm) WithTx(tx *gorm.DB) SpeakerRepo {
	return &speakerRepoGorm{
		db: tx,
	}
}

func (r *speakerRepoGorm) Create(ctx context.Context, speaker *model.Speaker) error {
	return gorm.G[model.Speaker](r.db).Create(ctx, speaker)
}

func (r *speakerRepoGorm) Save(ctx context.Context, speaker *model.Speaker) error {
	return r.db.WithContext(ctx).Save(speaker).Error
}

func (r *speakerRepoGorm) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Speaker{}, id).Error
}

func (r *speakerRepoGorm) GetByID(ctx context.Context, id uint) (*model.Speaker, error) {
	speaker, err := gorm.G[model.Speaker](r.db).Where("id = ?", id).First(ctx)
	if err != nil {
		return nil, err
	}
	return &speaker, nil
}

func (r *speakerRepoGorm) ListByEventID(ctx context.Context, eventID uint) ([]model.Speaker, error) {
	return gorm.G[model.Speaker](r.db).Where("event_id = ?", eventID).Order("name").Find(ctx)
}
