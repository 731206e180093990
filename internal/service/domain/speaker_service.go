package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/imaging"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
	"github.com/qs-lzh/open-event/internal/storage"
)

const (
	ProfileImageType     = "profile"
	ActionUpdateSpeaker  = "update_speaker"
	heardFromOtherOption = "Other"
)

// SpeakerForm is a submitted speaker profile. Blank fields leave the stored
// value unchanged.
type SpeakerForm struct {
	Name                string `form:"name" json:"name"`
	Email               string `form:"email" json:"email"`
	Photo               string `form:"photo" json:"photo"`
	ShortBiography      string `form:"short_biography" json:"short_biography"`
	LongBiography       string `form:"long_biography" json:"long_biography"`
	SpeakingExperience  string `form:"speaking_experience" json:"speaking_experience"`
	Mobile              string `form:"mobile" json:"mobile"`
	Website             string `form:"website" json:"website"`
	Twitter             string `form:"twitter" json:"twitter"`
	Facebook            string `form:"facebook" json:"facebook"`
	Github              string `form:"github" json:"github"`
	Linkedin            string `form:"linkedin" json:"linkedin"`
	Organisation        string `form:"organisation" json:"organisation"`
	Featured            string `form:"featured" json:"featured"`
	Position            string `form:"position" json:"position"`
	Country             string `form:"country" json:"country"`
	City                string `form:"city" json:"city"`
	Gender              string `form:"gender" json:"gender"`
	HeardFrom           string `form:"heard_from" json:"heard_from"`
	OtherText           string `form:"other_text" json:"other_text"`
	SponsorshipRequired string `form:"sponsorship_required" json:"sponsorship_required"`
}

func (f *SpeakerForm) trim() {
	for _, p := range []*string{
		&f.Name, &f.Email, &f.Photo, &f.ShortBiography, &f.LongBiography, &f.SpeakingExperience,
		&f.Mobile, &f.Website, &f.Twitter, &f.Facebook, &f.Github, &f.Linkedin, &f.Organisation,
		&f.Featured, &f.Position, &f.Country, &f.City, &f.Gender, &f.HeardFrom, &f.OtherText,
		&f.SponsorshipRequired,
	} {
		*p = strings.TrimSpace(*p)
	}
}

type SaveSpeakerOptions struct {
	// EventID is required when Speaker is nil
	EventID uint
	Speaker *model.Speaker
	// User is linked to the speaker instead of looking one up by email
	User *model.User
	// NoName allows a new speaker without a name, as for invited co-speakers
	NoName bool
	// ActorID is recorded in the activity log
	ActorID *uint
}

type UploadStore interface {
	GetUpload(ctx context.Context, token string) ([]byte, error)
}

type SpeakerService interface {
	SaveSpeaker(ctx context.Context, form SpeakerForm, opts SaveSpeakerOptions) (*model.Speaker, error)
	GetByID(ctx context.Context, id uint) (*model.Speaker, error)
	ListByEvent(ctx context.Context, eventID uint) ([]model.Speaker, error)
	// ProfileImageSizes returns the profile image sizes, creating the default row if missing.
	ProfileImageSizes(ctx context.Context) (*model.ImageSizes, error)
}

type speakerService struct {
	repo         repository.SpeakerRepo
	imageSizes   repository.ImageSizesRepo
	activityRepo repository.ActivityRepo
	users        UserService
	uploads      UploadStore
	storage      storage.Storage
	notifier     Notifier
	logger       *zap.Logger
}

var _ SpeakerService = (*speakerService)(nil)

func NewSpeakerService(speakerRepo repository.SpeakerRepo, imageSizesRepo repository.ImageSizesRepo,
	activityRepo repository.ActivityRepo, users UserService, uploads UploadStore, store storage.Storage,
	notifier Notifier, logger *zap.Logger) *speakerService {
	return &speakerService{
		repo:         speakerRepo,
		imageSizes:   imageSizesRepo,
		activityRepo: activityRepo,
		users:        users,
		uploads:      uploads,
		storage:      store,
		notifier:     notifier,
		logger:       logger,
	}
}

func (s *speakerService) GetByID(ctx context.Context, id uint) (*model.Speaker, error) {
	speaker, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return speaker, nil
}

func (s *speakerService) ListByEvent(ctx context.Context, eventID uint) ([]model.Speaker, error) {
	return s.repo.ListByEventID(ctx, eventID)
}

func (s *speakerService) SaveSpeaker(ctx context.Context, form SpeakerForm, opts SaveSpeakerOptions) (_ *model.Speaker, err error) {
	if opts.Speaker == nil && opts.EventID == 0 {
		return nil, service.ValidationError("event", "or speaker is required")
	}
	form.trim()

	speaker := opts.Speaker
	// resolve the upload before anything is written
	var upload *photoUpload
	if (speaker == nil || speaker.Photo == "") && form.Photo != "" {
		if upload, err = s.loadPhoto(ctx, form.Photo); err != nil {
			return nil, err
		}
	}

	if speaker == nil {
		if speaker, err = s.newSpeaker(ctx, form, opts); err != nil {
			return nil, err
		}
		// the photo path needs the id
		if err := s.repo.Create(ctx, speaker); err != nil {
			return nil, fmt.Errorf("create speaker: %w", err)
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.repo.Delete(context.WithoutCancel(ctx), speaker.ID); delErr != nil {
				s.logger.Error("failed to remove unsaved speaker", zap.Uint("speaker", speaker.ID), zap.Error(delErr))
			}
		}()
	}

	setIfPresent(&speaker.Email, form.Email)
	setIfPresent(&speaker.Name, form.Name)

	if speaker.UserID == nil {
		if opts.User != nil {
			speaker.UserID = &opts.User.ID
		} else if speaker.Email != "" {
			res, err := s.users.FindOrCreate(ctx, speaker.Email, UserDefaults{FirstName: speaker.Name})
			if err != nil {
				return nil, err
			}
			speaker.UserID = &res.User.ID
		}
	}

	if speaker.Photo == "" {
		if upload != nil {
			photos, err := s.storePhotos(ctx, speaker.EventID, speaker.ID, upload)
			if err != nil {
				return nil, err
			}
			speaker.Photo, speaker.Small, speaker.Thumbnail, speaker.Icon = photos.photo, photos.small, photos.thumbnail, photos.icon
		} else {
			speaker.Photo, speaker.Small, speaker.Thumbnail, speaker.Icon = "", "", "", ""
		}
	}

	applyProfile(speaker, form)

	if err := s.repo.Save(ctx, speaker); err != nil {
		return nil, fmt.Errorf("save speaker %d: %w", speaker.ID, err)
	}

	if err := s.activityRepo.Create(ctx, &model.ActivityLog{
		ActorID: opts.ActorID,
		EventID: speaker.EventID,
		Action:  ActionUpdateSpeaker,
		Detail:  fmt.Sprintf("Speaker %d (%s) updated", speaker.ID, speaker.Email),
	}); err != nil {
		s.logger.Warn("failed to record activity", zap.Uint("speaker", speaker.ID), zap.Error(err))
	}
	if err := s.notifier.Notify(ctx, mq.NotificationMessage{
		Kind:      mq.NotifySpeakerModified,
		EventID:   speaker.EventID,
		SpeakerID: speaker.ID,
	}); err != nil {
		s.logger.Warn("failed to publish speaker update", zap.Uint("speaker", speaker.ID), zap.Error(err))
	}
	return speaker, nil
}

// newSpeaker builds an unsaved speaker from the form. The name falls back to
// the linked user's name and may only stay blank when opts.NoName is set.
func (s *speakerService) newSpeaker(ctx context.Context, form SpeakerForm, opts SaveSpeakerOptions) (*model.Speaker, error) {
	email := form.Email
	if email == "" && opts.User != nil {
		email = opts.User.Email
	}
	if email == "" {
		return nil, service.ValidationError("email", "is required")
	}
	speaker := &model.Speaker{
		EventID: opts.EventID,
		Email:   email,
	}
	if opts.User != nil {
		speaker.UserID = &opts.User.ID
	}
	if opts.NoName {
		return speaker, nil
	}
	speaker.Name = form.Name
	if speaker.Name == "" && opts.User != nil {
		speaker.Name = strings.TrimSpace(opts.User.FirstName + " " + opts.User.LastName)
	}
	if speaker.Name == "" {
		return nil, service.ValidationError("name", "is required")
	}
	return speaker, nil
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyProfile(speaker *model.Speaker, form SpeakerForm) {
	setIfPresent(&speaker.ShortBiography, form.ShortBiography)
	setIfPresent(&speaker.LongBiography, form.LongBiography)
	setIfPresent(&speaker.Mobile, form.Mobile)
	setIfPresent(&speaker.Website, form.Website)
	setIfPresent(&speaker.Twitter, form.Twitter)
	setIfPresent(&speaker.Facebook, form.Facebook)
	setIfPresent(&speaker.Github, form.Github)
	setIfPresent(&speaker.Linkedin, form.Linkedin)
	setIfPresent(&speaker.Organisation, form.Organisation)
	if form.Featured != "" {
		speaker.Featured = form.Featured == "true"
	}
	setIfPresent(&speaker.Position, form.Position)
	setIfPresent(&speaker.Country, form.Country)
	setIfPresent(&speaker.City, form.City)
	setIfPresent(&speaker.Gender, form.Gender)
	if form.HeardFrom == heardFromOtherOption {
		setIfPresent(&speaker.HeardFrom, form.OtherText)
	} else {
		setIfPresent(&speaker.HeardFrom, form.HeardFrom)
	}
	setIfPresent(&speaker.SponsorshipRequired, form.SponsorshipRequired)
	setIfPresent(&speaker.SpeakingExperience, form.SpeakingExperience)
}

type photoSet struct {
	photo, small, thumbnail, icon string
}

type photoUpload struct {
	data  []byte
	img   *imaging.Image
	sizes *model.ImageSizes
}

// loadPhoto resolves an upload token and decodes the image behind it.
func (s *speakerService) loadPhoto(ctx context.Context, token string) (*photoUpload, error) {
	data, err := s.uploads.GetUpload(ctx, token)
	if err != nil {
		if errors.Is(err, cache.ErrUploadNotFound) {
			return nil, service.ValidationError("photo", "upload has expired, please upload again")
		}
		return nil, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, service.ValidationError("photo", "is not a supported image")
	}
	sizes, err := s.ProfileImageSizes(ctx)
	if err != nil {
		return nil, err
	}
	return &photoUpload{data: data, img: img, sizes: sizes}, nil
}

// storePhotos writes the upload and its three square derivatives. Nothing is
// returned unless all four writes succeeded.
func (s *speakerService) storePhotos(ctx context.Context, eventID, speakerID uint, upload *photoUpload) (*photoSet, error) {
	base := fmt.Sprintf("events/%d/speakers/%d/", eventID, speakerID)
	ext, contentType := imaging.Ext(upload.img.Format)
	set := &photoSet{}
	var err error
	if set.photo, err = s.storage.Put(ctx, base+"photo"+ext, upload.data, contentType); err != nil {
		return nil, err
	}

	sizes := upload.sizes
	variants := []struct {
		name          string
		width, height int
		dst           *string
	}{
		{"small", sizes.ThumbnailWidth, sizes.ThumbnailHeight, &set.small},
		{"thumbnail", sizes.FullWidth, sizes.FullHeight, &set.thumbnail},
		{"icon", sizes.IconWidth, sizes.IconHeight, &set.icon},
	}
	for _, v := range variants {
		resized := imaging.Square(upload.img.Img, imaging.SquareSide(v.width, v.height))
		out, ext, contentType, err := imaging.Encode(resized, upload.img.Format)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", v.name, err)
		}
		url, err := s.storage.Put(ctx, base+v.name+ext, out, contentType)
		if err != nil {
			return nil, err
		}
		*v.dst = url
	}
	return set, nil
}

func (s *speakerService) ProfileImageSizes(ctx context.Context) (*model.ImageSizes, error) {
	sizes, err := s.imageSizes.GetByType(ctx, ProfileImageType)
	if err == nil {
		return sizes, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sizes = &model.ImageSizes{
		Type:            ProfileImageType,
		FullWidth:       150,
		FullHeight:      150,
		FullAspect:      true,
		IconWidth:       35,
		IconHeight:      35,
		IconAspect:      true,
		ThumbnailWidth:  50,
		ThumbnailHeight: 50,
		ThumbnailAspect: true,
	}
	if err := s.imageSizes.Create(ctx, sizes); err != nil {
		// created concurrently
		if existing, getErr := s.imageSizes.GetByType(ctx, ProfileImageType); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return sizes, nil
}
