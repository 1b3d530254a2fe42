package di

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	botUseCase "go-line-scheduler/src/application/usecases/bot"
	messageUseCase "go-line-scheduler/src/application/usecases/message"
	"go-line-scheduler/src/domain/common"
	domainCredential "go-line-scheduler/src/domain/credential"
	"go-line-scheduler/src/infrastructure/alerting"
	"go-line-scheduler/src/infrastructure/credentials"
	"go-line-scheduler/src/infrastructure/helper"
	"go-line-scheduler/src/infrastructure/inbound"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"
	"go-line-scheduler/src/infrastructure/messaging"
	"go-line-scheduler/src/infrastructure/repository/database"
	botRepo "go-line-scheduler/src/infrastructure/repository/database/bot"
	scheduledRepo "go-line-scheduler/src/infrastructure/repository/database/scheduled"
	botController "go-line-scheduler/src/infrastructure/rest/controllers/bot"
	messageController "go-line-scheduler/src/infrastructure/rest/controllers/message"
	webhookController "go-line-scheduler/src/infrastructure/rest/controllers/webhook"
	"go-line-scheduler/src/infrastructure/trigger"
	"go-line-scheduler/src/infrastructure/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config is everything the container reads from the environment apart from the database.
type Config struct {
	DefaultCredential *domainCredential.Credential
	LineAPIBaseURL    string
	CacheTTL          time.Duration
	ProbeRefresh      time.Duration
	BaseURL           string
	UploadDir         string
	MaxBlocks         int
	AlertingConfig    string
	TriggerAMQPURL    string
	AdminToken        string
	Engine            messaging.EngineConfig
	Batch             messaging.BatchConfig

	// NotificationDisabled sends pushes silently.
	NotificationDisabled bool
}

// LoadConfig reads Config from the environment.
func LoadConfig() Config {
	var def *domainCredential.Credential
	token := utils.GetEnv("LINE_CHANNEL_ACCESS_TOKEN", "")
	secret := utils.GetEnv("LINE_CHANNEL_SECRET", "")
	if token != "" || secret != "" {
		def = &domainCredential.Credential{
			ID:            domainCredential.DefaultID,
			Name:          utils.GetEnv("LINE_BOT_NAME", "LINE Bot"),
			AccessToken:   token,
			ChannelSecret: secret,
			IsActive:      true,
		}
	}
	maxBlocks := utils.GetEnvInt("LINE_MAX_BLOCKS", line.MaxMessagesPerRequest)
	if maxBlocks <= 0 || maxBlocks > line.MaxMessagesPerRequest {
		maxBlocks = line.MaxMessagesPerRequest
	}
	return Config{
		DefaultCredential: def,
		LineAPIBaseURL:    utils.GetEnv("LINE_API_BASE_URL", line.DefaultAPIBaseURL),
		CacheTTL:          utils.GetEnvDuration("CREDENTIAL_CACHE_TTL", credentials.DefaultTTL),
		ProbeRefresh:      utils.GetEnvDuration("CREDENTIAL_PROBE_REFRESH", time.Minute),
		BaseURL:           utils.GetEnv("BASE_URL", ""),
		UploadDir:         utils.GetEnv("UPLOAD_DIR", ""),
		MaxBlocks:         maxBlocks,
		AlertingConfig:    utils.GetEnv("ALERTING_CONFIG", ""),
		TriggerAMQPURL:    utils.GetEnv("TRIGGER_AMQP_URL", ""),
		AdminToken:        utils.GetEnv("ADMIN_API_TOKEN", ""),
		Engine:            messaging.LoadEngineConfig(),
		Batch:             messaging.LoadBatchConfig(),

		NotificationDisabled: utils.GetEnvBool("LINE_NOTIFICATION_DISABLED", false),
	}
}

// ApplicationContext holds all application dependencies and services
type ApplicationContext struct {
	DB                *gorm.DB
	Logger            *logger.Logger
	Config            Config
	MessageController messageController.IMessageController
	BotController     botController.IBotController
	WebhookController webhookController.IWebhookController
	CommonService     common.CommonService
	MessageRepository scheduledRepo.ScheduledMessageRepositoryInterface
	CredentialRepo    botRepo.CredentialRepositoryInterface
	DestinationRepo   botRepo.ChatDestinationRepositoryInterface
	MessageUseCase    messageUseCase.IMessageUseCase
	BotUseCase        botUseCase.IBotUseCase
	CredentialCache   *credentials.Cache
	ProbeSet          *credentials.ProbeSet
	Engine            *messaging.Engine
	InboundRouter     *inbound.Router
	Alerts            *alerting.Dispatcher
	Trigger           trigger.Publisher
	amqpFanout        *trigger.AMQPFanout
	closeOnce         sync.Once
}

var (
	loggerInstance *logger.Logger
	loggerOnce     sync.Once
)

func GetLogger() *logger.Logger {
	loggerOnce.Do(func() {
		loggerInstance, _ = logger.NewLogger()
	})
	return loggerInstance
}

// SetupDependencies opens the database and builds the application context from the environment
func SetupDependencies(loggerInstance *logger.Logger) (*ApplicationContext, error) {
	db, err := database.InitDB(loggerInstance)
	if err != nil {
		return nil, err
	}
	return NewApplicationContext(db, LoadConfig(), loggerInstance)
}

// NewApplicationContext wires every component on top of an open, migrated database.
func NewApplicationContext(db *gorm.DB, cfg Config, loggerInstance *logger.Logger) (*ApplicationContext, error) {
	if cfg.DefaultCredential == nil {
		loggerInstance.Warn("No default LINE credential configured; messages without a botId will fail")
	}

	validator := helper.NewValidator(loggerInstance)
	commonService := common.NewCommonService(validator)

	// Initialize repositories with logger
	messageRepository := scheduledRepo.NewScheduledMessageRepository(db, loggerInstance)
	credentialRepository := botRepo.NewCredentialRepository(db, loggerInstance)
	destinationRepository := botRepo.NewChatDestinationRepository(db, loggerInstance)

	newClient := func(c domainCredential.Credential) *line.Client {
		return line.NewClient(c.AccessToken, loggerInstance.With(zap.String("credentialID", c.ID)),
			line.WithBaseURL(cfg.LineAPIBaseURL),
			line.WithNotificationDisabled(cfg.NotificationDisabled))
	}
	cache := credentials.NewCache(credentialRepository, cfg.DefaultCredential, cfg.CacheTTL, newClient, loggerInstance)
	probes := credentials.NewProbeSet(credentialRepository, cfg.DefaultCredential, loggerInstance)

	images, err := messaging.NewImageResolver(cfg.BaseURL, cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	composer := messaging.NewComposer(images, cfg.MaxBlocks, loggerInstance)
	sender := messaging.NewBatchSender(cfg.Batch, loggerInstance)

	alertConfig, err := alerting.LoadConfig(cfg.AlertingConfig)
	if err != nil {
		return nil, err
	}
	alerts := alerting.NewDispatcher(alertConfig, loggerInstance)

	resolver := messaging.ResolverFunc(func(ctx context.Context, ref string) (messaging.Pusher, error) {
		resolved, err := cache.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		return resolved.Client, nil
	})
	engine := messaging.NewEngine(messageRepository, resolver, sender, composer, alerts, cfg.Engine, loggerInstance)

	appContext := &ApplicationContext{
		DB:                db,
		Logger:            loggerInstance,
		Config:            cfg,
		CommonService:     commonService,
		MessageRepository: messageRepository,
		CredentialRepo:    credentialRepository,
		DestinationRepo:   destinationRepository,
		CredentialCache:   cache,
		ProbeSet:          probes,
		Engine:            engine,
		Alerts:            alerts,
	}

	local := trigger.NewLocal(engine.TriggerNow)
	publisher := &trigger.Fallback{Local: local, Logger: loggerInstance}
	if cfg.TriggerAMQPURL != "" {
		fanout, err := trigger.DialAMQPFanout(cfg.TriggerAMQPURL, engine.TriggerNow, loggerInstance)
		if err != nil {
			loggerInstance.Warn("Trigger broker unavailable, using local trigger only", zap.Error(err))
		} else {
			appContext.amqpFanout = fanout
			publisher.Primary = fanout
		}
	}
	appContext.Trigger = publisher

	// Initialize use cases with logger
	appContext.MessageUseCase = messageUseCase.NewMessageUseCase(messageRepository, publisher, cfg.Engine.Lookahead, loggerInstance)
	accounts := botUseCase.AccountResolverFunc(func(ctx context.Context, id string) (*domainCredential.Credential, botUseCase.AccountClient, error) {
		resolved, err := cache.Resolve(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return &resolved.Credential, resolved.Client, nil
	})
	newAccountClient := func(token string) botUseCase.AccountClient {
		return line.NewClient(token, loggerInstance, line.WithBaseURL(cfg.LineAPIBaseURL))
	}
	appContext.BotUseCase = botUseCase.NewBotUseCase(cache, probes, credentialRepository, destinationRepository,
		accounts, newAccountClient, loggerInstance)

	handler := inbound.NewRegistrationHandler(destinationRepository, loggerInstance)
	appContext.InboundRouter = inbound.NewRouter(cache, probes, handler, loggerInstance)

	// Initialize controllers with logger
	appContext.MessageController = messageController.NewMessageController(commonService, appContext.MessageUseCase, loggerInstance)
	appContext.BotController = botController.NewBotController(appContext.BotUseCase, loggerInstance)
	appContext.WebhookController = webhookController.NewWebhookController(appContext.InboundRouter, loggerInstance)

	return appContext, nil
}

// Start loads the probe set, registers the periodic jobs on c and starts the engine and the
// trigger consumer. It does not start c.
func (a *ApplicationContext) Start(ctx context.Context, c *cron.Cron) error {
	if err := a.ProbeSet.Refresh(ctx); err != nil {
		a.Logger.Warn("Initial probe set refresh failed", zap.Error(err))
	}
	if _, err := a.ProbeSet.Register(c, a.Config.ProbeRefresh); err != nil {
		return fmt.Errorf("register probe refresh: %w", err)
	}
	if _, err := a.Engine.Register(c); err != nil {
		return fmt.Errorf("register scheduler tick: %w", err)
	}
	a.Engine.Start(ctx)
	if a.amqpFanout != nil {
		if err := a.amqpFanout.Listen(ctx); err != nil {
			a.Logger.Warn("Trigger consumer not started", zap.Error(err))
		}
	}
	// pick up anything that came due while the process was down
	a.Engine.TriggerNow()
	return nil
}

// Close releases the broker connection and the database pool.
func (a *ApplicationContext) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.amqpFanout != nil {
			errs = append(errs, a.amqpFanout.Close())
		}
		if a.DB != nil {
			if sqlDB, err := a.DB.DB(); err == nil {
				errs = append(errs, sqlDB.Close())
			}
		}
	})
	return errors.Join(errs...)
}
