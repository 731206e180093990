package app

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/config"
	"github.com/qs-lzh/open-event/internal/cache"
	"github.com/qs-lzh/open-event/internal/mailer"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/mq"
	"github.com/qs-lzh/open-event/internal/payment"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service/domain"
	"github.com/qs-lzh/open-event/internal/service/workflow"
	"github.com/qs-lzh/open-event/internal/storage"
)

type App struct {
	Config *config.Config

	DB        *gorm.DB
	Cache     *cache.RedisCache
	Logger    *zap.Logger
	MQConn    *amqp.Connection
	Publisher *mq.Publisher

	UserService         domain.UserService
	OrderService        domain.OrderService
	PaymentService      domain.PaymentService
	SpeakerService      domain.SpeakerService
	TicketHolderService domain.TicketHolderService
	EventService        domain.EventService

	OrderWorkflow        *workflow.OrderWorkflow
	NotificationWorkflow *workflow.NotificationWorkflow
}

func New(ctx context.Context, cfg *config.Config, db *gorm.DB, redisCache *cache.RedisCache, mqConn *amqp.Connection, logger *zap.Logger) (*App, error) {
	publisher, err := mq.NewPublisher(mqConn)
	if err != nil {
		return nil, err
	}
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepoGorm(db)
	eventRepo := repository.NewEventRepoGorm(db)
	orderRepo := repository.NewOrderRepoGorm(db)
	holderRepo := repository.NewTicketHolderRepoGorm(db)
	speakerRepo := repository.NewSpeakerRepoGorm(db)
	imageSizesRepo := repository.NewImageSizesRepoGorm(db)
	activityRepo := repository.NewActivityRepoGorm(db)

	userService := domain.NewUserService(userRepo)
	orderService := domain.NewOrderService(orderRepo, eventRepo, publisher, logger, cfg.OrderExpiry)
	speakerService := domain.NewSpeakerService(speakerRepo, imageSizesRepo, activityRepo, userService,
		redisCache, store, publisher, logger)
	eventService := domain.NewEventService(eventRepo, speakerService, redisCache, logger)
	ticketHolderService := domain.NewTicketHolderService(holderRepo, eventRepo, logger)

	deps := domain.PaymentServiceDeps{
		DB:            db,
		Orders:        orderService,
		OrderRepo:     orderRepo,
		EventRepo:     eventRepo,
		HolderRepo:    holderRepo,
		Users:         userService,
		Locker:        redisCache,
		Notifier:      publisher,
		Logger:        logger,
		ChargeLockTTL: cfg.ChargeLockTTL,
		PublicURL:     cfg.PublicURL,
	}
	if cfg.Stripe.SecretKey != "" {
		deps.Stripe = payment.NewStripeGateway(cfg.Stripe.SecretKey)
	} else {
		logger.Warn("stripe is not configured")
	}
	if paypalGateway, err := payment.NewPayPalGateway(cfg.PayPal.ClientID, cfg.PayPal.Secret, cfg.PayPal.APIBase); err == nil {
		deps.PayPal = paypalGateway
	} else if errors.Is(err, payment.ErrNotConfigured) {
		logger.Warn("paypal is not configured")
	} else {
		return nil, err
	}
	paymentService := domain.NewPaymentService(deps)

	orderWorkflow := workflow.NewOrderWorkflow(orderService, logger)
	notificationWorkflow := workflow.NewNotificationWorkflow(mailer.New(cfg.SMTP, logger), redisCache, cfg.PublicURL, logger)

	return &App{
		Config:               cfg,
		DB:                   db,
		Cache:                redisCache,
		Logger:               logger,
		MQConn:               mqConn,
		Publisher:            publisher,
		UserService:          userService,
		OrderService:         orderService,
		PaymentService:       paymentService,
		SpeakerService:       speakerService,
		TicketHolderService:  ticketHolderService,
		EventService:         eventService,
		OrderWorkflow:        orderWorkflow,
		NotificationWorkflow: notificationWorkflow,
	}, nil
}

func (app *App) Init(ctx context.Context) error {
	// init database
	if err := app.DB.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return err
	}

	// init redis
	if err := app.Cache.Ping(ctx); err != nil {
		return err
	}

	// init rabbit mq
	if err := mq.InitQueues(app.MQConn); err != nil {
		return err
	}

	if err := app.OrderWorkflow.Start(ctx, app.MQConn); err != nil {
		return err
	}
	if err := app.NotificationWorkflow.Start(ctx, app.MQConn); err != nil {
		return err
	}

	return nil
}

func (app *App) Close() error {
	var errs []error
	errs = append(errs, app.Publisher.Close())
	errs = append(errs, app.MQConn.Close())
	errs = append(errs, app.Cache.Close())
	sqlDB, err := app.DB.DB()
	if err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
