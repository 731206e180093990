package domain

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

// NoSponsorLevel is the bucket of sponsors without a level.
const NoSponsorLevel = "-1"

const speakerCacheTTL = 10 * time.Minute

var organizerRoles = []model.EventRole{model.RoleOrganizer, model.RoleCoorganizer, model.RoleTrackOrganizer}

type EventHome struct {
	Event         *model.Event               `json:"event"`
	Sponsors      map[string][]model.Sponsor `json:"sponsors"`
	Tickets       []model.Ticket             `json:"tickets"`
	CallForPapers *model.CallForPaper        `json:"call_for_papers,omitempty"`
	CFPState      WindowState                `json:"cfp_state,omitempty"`
	Speakers      []model.Speaker            `json:"speakers"`
	Fees          *model.FeeSetting          `json:"fees,omitempty"`
}

type CallForSpeakersView struct {
	Event         *model.Event        `json:"event"`
	CallForPapers *model.CallForPaper `json:"call_for_papers"`
	State         WindowState         `json:"state"`
	Speakers      []model.Speaker     `json:"speakers"`
	ViaHash       bool                `json:"via_hash"`
}

// SpeakerListCache holds the public speaker list of an event.
type SpeakerListCache interface {
	GetEventSpeakers(ctx context.Context, eventID uint, dest any) error
	SetEventSpeakers(ctx context.Context, eventID uint, speakers any, ttl time.Duration) error
}

type EventService interface {
	// GetPublishedEvent hides drafts from everyone but the event's organizers.
	GetPublishedEvent(ctx context.Context, identifier string, viewer uint) (*model.Event, error)
	EventHome(ctx context.Context, identifier string, viewer uint) (*EventHome, error)
	CallForSpeakers(ctx context.Context, identifier string, viewer uint) (*CallForSpeakersView, error)
	CallForSpeakersByHash(ctx context.Context, hash string) (*CallForSpeakersView, error)
	IsOrganizer(ctx context.Context, viewer, eventID uint) (bool, error)
	// UpdateCallForPapers creates or edits the event's call for papers. Only
	// organizers may call it.
	UpdateCallForPapers(ctx context.Context, identifier string, viewer uint, in CallForPapersInput) (*model.CallForPaper, error)
}

// CallForPapersInput carries naive wall-clock dates in the event timezone.
// Blank fields keep their stored value.
type CallForPapersInput struct {
	StartDate    string           `json:"start_date" form:"start_date"`
	EndDate      string           `json:"end_date" form:"end_date"`
	Announcement string           `json:"announcement" form:"announcement"`
	Privacy      model.CFPPrivacy `json:"privacy" form:"privacy"`
}

type eventService struct {
	repo     repository.EventRepo
	speakers SpeakerService
	cache    SpeakerListCache
	logger   *zap.Logger
	now      func() time.Time
}

var _ EventService = (*eventService)(nil)

func NewEventService(eventRepo repository.EventRepo, speakers SpeakerService, speakerCache SpeakerListCache, logger *zap.Logger) *eventService {
	return &eventService{
		repo:     eventRepo,
		speakers: speakers,
		cache:    speakerCache,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *eventService) GetPublishedEvent(ctx context.Context, identifier string, viewer uint) (*model.Event, error) {
	event, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	if event.State == model.EventPublished {
		return event, nil
	}
	ok, err := s.IsOrganizer(ctx, viewer, event.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, service.ErrForbidden
	}
	return event, nil
}

func (s *eventService) IsOrganizer(ctx context.Context, viewer, eventID uint) (bool, error) {
	if viewer == 0 {
		return false, nil
	}
	return s.repo.HasAnyRole(ctx, viewer, eventID, organizerRoles...)
}

func (s *eventService) EventHome(ctx context.Context, identifier string, viewer uint) (*EventHome, error) {
	event, err := s.GetPublishedEvent(ctx, identifier, viewer)
	if err != nil {
		return nil, err
	}
	loc, err := LoadTimezone(event.Timezone)
	if err != nil {
		return nil, err
	}
	now := s.now().In(loc)

	home := &EventHome{
		Event:    event,
		Sponsors: bucketSponsors(event.Sponsors),
		Tickets:  salesOpenTickets(event.Tickets, event.Timezone, now),
	}

	cfp, err := s.repo.GetCallForPaper(ctx, event.ID)
	switch {
	case err == nil:
		home.CallForPapers = cfp
		if home.CFPState, err = ClassifyWindow(cfp.StartDate, cfp.EndDate, event.Timezone, now); err != nil {
			return nil, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if home.Speakers, err = s.eventSpeakers(ctx, event.ID); err != nil {
		return nil, err
	}

	fee, err := s.repo.GetFeeByCurrency(ctx, event.PaymentCurrency)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	home.Fees = fee
	return home, nil
}

// bucketSponsors groups sponsors by level; unleveled ones go under NoSponsorLevel.
func bucketSponsors(sponsors []model.Sponsor) map[string][]model.Sponsor {
	buckets := map[string][]model.Sponsor{NoSponsorLevel: {}}
	for _, sp := range sponsors {
		level := NoSponsorLevel
		if n, err := strconv.Atoi(sp.Level); err == nil {
			level = strconv.Itoa(n)
		}
		buckets[level] = append(buckets[level], sp)
	}
	return buckets
}

func salesOpenTickets(tickets []model.Ticket, tz string, now time.Time) []model.Ticket {
	open := make([]model.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.Hidden {
			continue
		}
		if !t.SalesStart.IsZero() && !t.SalesEnd.IsZero() {
			state, err := ClassifyWindow(t.SalesStart, t.SalesEnd, tz, now)
			if err != nil || state != WindowNow {
				continue
			}
		}
		open = append(open, t)
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Position < open[j].Position
	})
	return open
}

func (s *eventService) eventSpeakers(ctx context.Context, eventID uint) ([]model.Speaker, error) {
	var speakers []model.Speaker
	err := s.cache.GetEventSpeakers(ctx, eventID, &speakers)
	if err == nil {
		return speakers, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("speaker cache read failed", zap.Uint("event", eventID), zap.Error(err))
	}

	speakers, err = s.speakers.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetEventSpeakers(ctx, eventID, speakers, speakerCacheTTL); err != nil {
		s.logger.Warn("speaker cache write failed", zap.Uint("event", eventID), zap.Error(err))
	}
	return speakers, nil
}

func (s *eventService) CallForSpeakers(ctx context.Context, identifier string, viewer uint) (*CallForSpeakersView, error) {
	event, err := s.GetPublishedEvent(ctx, identifier, viewer)
	if err != nil {
		return nil, err
	}
	cfp, err := s.callForPapers(ctx, event)
	if err != nil {
		return nil, err
	}
	if cfp.Privacy == model.CFPPrivate {
		ok, err := s.IsOrganizer(ctx, viewer, event.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, service.ErrForbidden
		}
	}
	return s.cfsView(ctx, event, cfp, false)
}

func (s *eventService) CallForSpeakersByHash(ctx context.Context, hash string) (*CallForSpeakersView, error) {
	cfp, err := s.repo.GetCallForPaperByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	event, err := s.repo.GetByID(ctx, cfp.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	if !event.HasSessionSpeakers {
		return nil, service.ErrNotFound
	}
	return s.cfsView(ctx, event, cfp, true)
}

func (s *eventService) callForPapers(ctx context.Context, event *model.Event) (*model.CallForPaper, error) {
	if !event.HasSessionSpeakers {
		return nil, service.ErrNotFound
	}
	cfp, err := s.repo.GetCallForPaper(ctx, event.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return cfp, nil
}

func (s *eventService) cfsView(ctx context.Context, event *model.Event, cfp *model.CallForPaper, viaHash bool) (*CallForSpeakersView, error) {
	state, err := ClassifyWindow(cfp.StartDate, cfp.EndDate, event.Timezone, s.now())
	if err != nil {
		return nil, err
	}
	speakers, err := s.eventSpeakers(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return &CallForSpeakersView{
		Event:         event,
		CallForPapers: cfp,
		State:         state,
		Speakers:      speakers,
		ViaHash:       viaHash,
	}, nil
}

func (s *eventService) UpdateCallForPapers(ctx context.Context, identifier string, viewer uint, in CallForPapersInput) (*model.CallForPaper, error) {
	event, err := s.GetPublishedEvent(ctx, identifier, viewer)
	if err != nil {
		return nil, err
	}
	ok, err := s.IsOrganizer(ctx, viewer, event.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, service.ErrForbidden
	}

	cfp, err := s.repo.GetCallForPaper(ctx, event.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfp = &model.CallForPaper{EventID: event.ID, Privacy: model.CFPPublic, Hash: uuid.NewString()}
	case err != nil:
		return nil, err
	}

	if v := strings.TrimSpace(in.StartDate); v != "" {
		if cfp.StartDate, err = ParseNaiveTime(v); err != nil {
			return nil, err
		}
	}
	if v := strings.TrimSpace(in.EndDate); v != "" {
		if cfp.EndDate, err = ParseNaiveTime(v); err != nil {
			return nil, err
		}
	}
	if _, err := ClassifyWindow(cfp.StartDate, cfp.EndDate, event.Timezone, s.now()); err != nil {
		return nil, err
	}
	switch in.Privacy {
	case "":
	case model.CFPPublic, model.CFPPrivate:
		cfp.Privacy = in.Privacy
	default:
		return nil, service.ValidationError("privacy", "must be public or private")
	}
	if v := strings.TrimSpace(in.Announcement); v != "" {
		cfp.Announcement = v
	}

	if err := s.repo.SaveCallForPaper(ctx, cfp); err != nil {
		return nil, err
	}
	s.logger.Info("call for papers updated", zap.String("event", event.Identifier), zap.Uint("by", viewer))
	return cfp, nil
}

// RequireOpen rejects speaker submissions outside the CFP window.
func (v *CallForSpeakersView) RequireOpen() error {
	if v.State != WindowNow {
		return service.ValidationError("call_for_papers", "is "+string(v.State)+", not open")
	}
	return nil
}
