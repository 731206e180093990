package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs-lzh/open-event/config"
	"github.com/qs-lzh/open-event/internal/app"
	"github.com/qs-lzh/open-event/internal/middleware"
)

func NewRouter(app *app.App) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(app.Logger), middleware.Logger(app.Logger))
	r.Use(middleware.Authenticate(app.Config.JWTSecret))

	if app.Config.Storage.Backend == config.StorageLocal {
		r.Static(app.Config.Storage.LocalURL, app.Config.Storage.LocalDir)
	}

	orderHandler := NewOrderHandler(app)
	orders := r.Group("/orders")
	{
		orders.POST("/create/", orderHandler.HandleCreate)
		orders.POST("/apply_promo/", orderHandler.HandleApplyPromo)
		orders.POST("/initiate/payment/", orderHandler.HandleInitiatePayment)
		orders.POST("/charge/payment/", orderHandler.HandleCharge)
		orders.POST("/expire/:identifier/", orderHandler.HandleExpire)
		orders.GET("/paypal/:identifier/:function/", orderHandler.HandlePayPalCallback)
		orders.GET("/stripe/callback/", middleware.RequireUser(), orderHandler.HandleStripeCallback)
		orders.POST("/checkin/", middleware.RequireUser(), orderHandler.HandleCheckIn)
		orders.GET("/:identifier/", orderHandler.HandleShow)
		orders.GET("/:identifier/view/", orderHandler.HandleView)
		orders.GET("/:identifier/holders/:id/qr/", orderHandler.HandleHolderQR)
	}

	eventHandler := NewEventHandler(app)
	events := r.Group("/e")
	{
		events.POST("/temp/", eventHandler.HandleTempUpload)
		events.GET("/cfs/:hash/", eventHandler.HandleCallForSpeakersByHash)
		events.POST("/cfs/:hash/new_speaker/", middleware.RequireUser(), eventHandler.HandleNewSpeakerByHash)
		events.GET("/:identifier/", eventHandler.HandleHome)
		events.GET("/:identifier/cfs/", eventHandler.HandleCallForSpeakers)
		events.POST("/:identifier/cfs/new_speaker/", middleware.RequireUser(), eventHandler.HandleNewSpeaker)
		events.PUT("/:identifier/cfs/", middleware.RequireUser(), eventHandler.HandleUpdateCallForPapers)
		events.POST("/:identifier/speakers/invite/", middleware.RequireUser(), eventHandler.HandleInviteSpeaker)
	}

	speakerHandler := NewSpeakerHandler(app)
	r.PUT("/speakers/:id/", middleware.RequireUser(), speakerHandler.HandleUpdate)

	return r
}
