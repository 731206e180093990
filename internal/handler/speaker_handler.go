package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs-lzh/open-event/internal/app"
	"github.com/qs-lzh/open-event/internal/middleware"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/service"
	"github.com/qs-lzh/open-event/internal/service/domain"
)

type SpeakerHandler struct {
	app *app.App
}

func NewSpeakerHandler(app *app.App) *SpeakerHandler {
	return &SpeakerHandler{
		app: app,
	}
}

// HandleUpdate lets an event organizer edit a speaker profile.
func (h *SpeakerHandler) HandleUpdate(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		writeError(ctx, h.app.Logger, service.ErrNotFound)
		return
	}
	var form domain.SpeakerForm
	if err := ctx.ShouldBind(&form); err != nil {
		writeBindError(ctx, err)
		return
	}
	viewer, _ := middleware.UserID(ctx)

	speaker, err := h.app.SpeakerService.GetByID(ctx.Request.Context(), uint(id))
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	allowed, err := h.app.EventService.IsOrganizer(ctx.Request.Context(), viewer, speaker.EventID)
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	if !allowed {
		writeError(ctx, h.app.Logger, service.ErrForbidden)
		return
	}

	speaker, err = h.app.SpeakerService.SaveSpeaker(ctx.Request.Context(), form, domain.SaveSpeakerOptions{
		Speaker: speaker,
		ActorID: &viewer,
	})
	if err != nil {
		writeError(ctx, h.app.Logger, err)
		return
	}
	ctx.JSON(http.StatusOK, speakerView(speaker))
}

func speakerView(speaker *model.Speaker) gin.H {
	return gin.H{
		"id":        speaker.ID,
		"event_id":  speaker.EventID,
		"name":      speaker.Name,
		"email":     speaker.Email,
		"photo":     speaker.Photo,
		"small":     speaker.Small,
		"thumbnail": speaker.Thumbnail,
		"icon":      speaker.Icon,
		"featured":  speaker.Featured,
	}
}
