package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

type eventFixture struct {
	svc   *eventService
	db    *gorm.DB
	cache *cache.RedisCache
	event *model.Event
}

func setupEventService(t *testing.T) *eventFixture {
	t.Helper()
	db := setupTestDB(t)
	redisCache := setupTestCache(t)
	speakers := NewSpeakerService(
		repository.NewSpeakerRepoGorm(db),
		repository.NewImageSizesRepoGorm(db),
		repository.NewActivityRepoGorm(db),
		NewUserService(repository.NewUserRepoGorm(db)),
		redisCache, nil, &fakeNotifier{}, zap.NewNop(),
	)
	f := &eventFixture{
		svc:   NewEventService(repository.NewEventRepoGorm(db), speakers, redisCache, zap.NewNop()),
		db:    db,
		cache: redisCache,
		event: seedEvent(t, db, "summit"),
	}
	f.svc.now = fixedClock(testNow)
	return f
}

func (f *eventFixture) callForPapers(t *testing.T, privacy model.CFPPrivacy, start, end time.Time) *model.CallForPaper {
	t.Helper()
	cfp := &model.CallForPaper{EventID: f.event.ID, StartDate: start, EndDate: end, Privacy: privacy, Hash: "h4sh"}
	mustCreate(t, f.db, cfp)
	return cfp
}

func (f *eventFixture) grant(t *testing.T, email string, role model.EventRole) *model.User {
	t.Helper()
	user := seedUser(t, f.db, email)
	mustCreate(t, f.db, &model.UserEventRole{UserID: user.ID, EventID: f.event.ID, Role: role})
	return user
}

func TestGetPublishedEvent_DraftVisibleToOrganizersOnly(t *testing.T) {
	f := setupEventService(t)
	f.db.Model(f.event).Update("state", model.EventDraft)
	organizer := f.grant(t, "organizer@example.com", model.RoleCoorganizer)
	stranger := seedUser(t, f.db, "stranger@example.com")

	if _, err := f.svc.GetPublishedEvent(context.Background(), "summit", 0); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("anonymous: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.GetPublishedEvent(context.Background(), "summit", stranger.ID); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("stranger: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.GetPublishedEvent(context.Background(), "summit", organizer.ID); err != nil {
		t.Errorf("organizer: %v", err)
	}
	if _, err := f.svc.GetPublishedEvent(context.Background(), "missing", organizer.ID); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestEventHome_BucketsSponsorsAndClassifiesCFP(t *testing.T) {
	f := setupEventService(t)
	for _, sp := range []model.Sponsor{
		{EventID: f.event.ID, Name: "Gold Inc", Level: "1"},
		{EventID: f.event.ID, Name: "Also Gold", Level: "01"},
		{EventID: f.event.ID, Name: "Friends", Level: ""},
		{EventID: f.event.ID, Name: "Odd", Level: "platinum"},
	} {
		mustCreate(t, f.db, &sp)
	}
	f.callForPapers(t, model.CFPPublic, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour))
	mustCreate(t, f.db, &model.Speaker{EventID: f.event.ID, Name: "Ada", Email: "ada@example.com"})

	home, err := f.svc.EventHome(context.Background(), "summit", 0)
	if err != nil {
		t.Fatalf("EventHome: %v", err)
	}
	if got := len(home.Sponsors["1"]); got != 2 {
		t.Errorf("level 1 sponsors = %d, want 2", got)
	}
	if got := len(home.Sponsors[NoSponsorLevel]); got != 2 {
		t.Errorf("unleveled sponsors = %d, want 2", got)
	}
	if home.CFPState != WindowNow {
		t.Errorf("cfp state = %s, want now", home.CFPState)
	}
	if len(home.Speakers) != 1 {
		t.Errorf("speakers = %d, want 1", len(home.Speakers))
	}

	// the speaker list is served from cache afterwards
	mustCreate(t, f.db, &model.Speaker{EventID: f.event.ID, Name: "Grace", Email: "grace@example.com"})
	home, err = f.svc.EventHome(context.Background(), "summit", 0)
	if err != nil {
		t.Fatalf("EventHome: %v", err)
	}
	if len(home.Speakers) != 1 {
		t.Errorf("cached speakers = %d, want 1", len(home.Speakers))
	}
	if err := f.cache.InvalidateEventSpeakers(context.Background(), f.event.ID); err != nil {
		t.Fatalf("InvalidateEventSpeakers: %v", err)
	}
	home, err = f.svc.EventHome(context.Background(), "summit", 0)
	if err != nil {
		t.Fatalf("EventHome: %v", err)
	}
	if len(home.Speakers) != 2 {
		t.Errorf("speakers after invalidation = %d, want 2", len(home.Speakers))
	}
}

func TestCallForSpeakers(t *testing.T) {
	f := setupEventService(t)
	f.callForPapers(t, model.CFPPrivate, testNow.Add(24*time.Hour), testNow.Add(48*time.Hour))
	organizer := f.grant(t, "organizer@example.com", model.RoleTrackOrganizer)

	if _, err := f.svc.CallForSpeakers(context.Background(), "summit", 0); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("private cfp, anonymous: err = %v, want ErrForbidden", err)
	}

	view, err := f.svc.CallForSpeakers(context.Background(), "summit", organizer.ID)
	if err != nil {
		t.Fatalf("CallForSpeakers: %v", err)
	}
	if view.State != WindowFuture {
		t.Errorf("state = %s, want future", view.State)
	}
	if err := view.RequireOpen(); !errors.Is(err, service.ErrValidation) {
		t.Errorf("RequireOpen: err = %v, want ErrValidation", err)
	}

	byHash, err := f.svc.CallForSpeakersByHash(context.Background(), "h4sh")
	if err != nil {
		t.Fatalf("CallForSpeakersByHash: %v", err)
	}
	if !byHash.ViaHash || byHash.Event.ID != f.event.ID {
		t.Errorf("by hash view = %+v", byHash)
	}
	if _, err := f.svc.CallForSpeakersByHash(context.Background(), "nope"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("unknown hash: err = %v, want ErrNotFound", err)
	}
}

func TestCallForSpeakers_WithoutSessionSpeakers(t *testing.T) {
	f := setupEventService(t)
	f.callForPapers(t, model.CFPPublic, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	f.db.Model(f.event).Update("has_session_speakers", false)

	if _, err := f.svc.CallForSpeakers(context.Background(), "summit", 0); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
