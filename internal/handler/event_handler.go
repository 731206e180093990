package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs-lzh/open-event/internal/app"
	"github.com/qs-lzh/open-event/internal/imaging"
	"github.com/qs-lzh/open-event/internal/middleware"
	"github.com/qs-lzh/open-event/internal/service"
	"github.com/qs-lzh/open-event/internal/service/domain"
)

// maxUploadSize caps temporary photo uploads.
const maxUploadSize = 10 << 20

type EventHandler struct {
	app *app.App
}

func NewEventHandler(app *app.App) *EventHandler {
	return &EventHandler{
		app: app,
	}
}

func (h *EventHandler) HandleHome(ctx *gin.Context) {
	viewer, _ := middleware.UserID(ctx)
	home, err := h.app.EventService.EventHome(ctx.Request.Context(), ctx.Param("identifier"), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, home)
}

func (h *EventHandler) HandleCallForSpeakers(ctx *gin.Context) {
	viewer, _ := middleware.UserID(ctx)
	view, err := h.app.EventService.CallForSpeakers(ctx.Request.Context(), ctx.Param("identifier"), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (h *EventHandler) HandleCallForSpeakersByHash(ctx *gin.Context) {
	view, err := h.app.EventService.CallForSpeakersByHash(ctx.Request.Context(), ctx.Param("hash"))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// HandleNewSpeaker submits the signed-in user's speaker profile while the
// call for speakers is open.
func (h *EventHandler) HandleNewSpeaker(ctx *gin.Context) {
	var form domain.SpeakerForm
	if err := ctx.ShouldBind(&form); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)

	view, err := h.app.EventService.CallForSpeakers(ctx.Request.Context(), ctx.Param("identifier"), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	h.submitSpeaker(ctx, view, viewer, form)
}

// HandleNewSpeakerByHash submits through the private link of a call for speakers,
// which also admits private calls.
func (h *EventHandler) HandleNewSpeakerByHash(ctx *gin.Context) {
	var form domain.SpeakerForm
	if err := ctx.ShouldBind(&form); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)

	view, err := h.app.EventService.CallForSpeakersByHash(ctx.Request.Context(), ctx.Param("hash"))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	h.submitSpeaker(ctx, view, viewer, form)
}

func (h *EventHandler) submitSpeaker(ctx *gin.Context, view *domain.CallForSpeakersView, viewer uint, form domain.SpeakerForm) {
	if err := view.RequireOpen(); err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	user, err := h.app.UserService.GetByID(ctx.Request.Context(), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}

	speaker, err := h.app.SpeakerService.SaveSpeaker(ctx.Request.Context(), form, domain.SaveSpeakerOptions{
		EventID: view.Event.ID,
		User:    user,
		ActorID: &user.ID,
	})
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, speaker)
}

type inviteSpeakerRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

// HandleInviteSpeaker adds a co-speaker by email. The invitee fills in the
// rest of the profile later, so the name may stay blank.
func (h *EventHandler) HandleInviteSpeaker(ctx *gin.Context) {
	var req inviteSpeakerRequest
	if err := ctx.ShouldBind(&req); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)

	event, err := h.app.EventService.GetPublishedEvent(ctx.Request.Context(), ctx.Param("identifier"), viewer)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ok, err := h.app.EventService.IsOrganizer(ctx.Request.Context(), viewer, event.ID)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	if !ok {
		writeError(ctx, h.app.Logger, service.ErrForbidden)
		return
	}

	speaker, err := h.app.SpeakerService.SaveSpeaker(ctx.Request.Context(), domain.SpeakerForm{Email: req.Email}, domain.SaveSpeakerOptions{
		EventID: event.ID,
		NoName:  true,
		ActorID: &viewer,
	})
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, speaker)
}

func (h *EventHandler) HandleUpdateCallForPapers(ctx *gin.Context) {
	var in domain.CallForPapersInput
	if err := ctx.ShouldBind(&in); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)

	cfp, err := h.app.EventService.UpdateCallForPapers(ctx.Request.Context(), ctx.Param("identifier"), viewer, in)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, cfp)
}

// HandleTempUpload stores an image for a later form submission and returns
// the token that refers to it.
func (h *EventHandler) HandleTempUpload(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		writeBindError(ctx, err)
		return
	}
	if file.Size > maxUploadSize {
		writeError(ctx, h.app.Logger, service.ValidationError("file", "is too large"))
		return
	}
	f, err := file.Open()
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	if _, err := imaging.Decode(data); err != nil {
		writeError(ctx, h.app.Logger, service.ValidationError("file", "is not a supported image"))
		return
	}

	token, err := h.app.Cache.PutUpload(ctx.Request.Context(), data, h.app.Config.UploadTTL)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	h.app.Logger.Debug("temporary upload stored", zap.String("token", token), zap.Int("bytes", len(data)))
	ctx.JSON(http.StatusCreated, gin.H{"status": "ok", "token": token})
}
