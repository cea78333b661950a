package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"repay/internal/app"
	"repay/internal/config"
	"repay/internal/gateway"
	"repay/internal/handler"
	"repay/internal/notifier"
	internalRedis "repay/internal/redis"
	"repay/internal/repository"
	"repay/internal/repository/docstore"
	"repay/internal/repository/postgres"
	"repay/internal/service"
)

// deps holds the wired stores and services shared by every command.
type deps struct {
	cfg   *config.Config
	log   *zap.Logger
	loc   *time.Location
	nrApp *newrelic.Application

	db          *sql.DB
	fsClient    *firestore.Client
	redisClient *redis.Client

	users repository.UserRepository
	rides repository.RideRepository
	fees  repository.FeeRepository
	state service.RunState

	pricing  service.PricingOptions
	notifier *service.NotificationService
}

// wire connects to the configured stores. New Relic comes first so the
// database driver can be instrumented.
func wire(ctx context.Context, cfg *config.Config, log *zap.Logger) (d *deps, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	d = &deps{cfg: cfg, log: log, loc: loc}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	nrApp, nrErr := app.NewNewRelic(cfg.NewRelic)
	if nrErr != nil {
		// Monitoring is optional.
		log.Warn("failed to initialize New Relic", zap.Error(nrErr))
	} else if nrApp != nil {
		d.nrApp = nrApp
		log.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
	}

	switch cfg.StoreDriver {
	case config.StoreFirestore:
		d.fsClient, err = app.NewFirestore(setupCtx, cfg.Firestore)
		if err != nil {
			return d, fmt.Errorf("connect to firestore: %w", err)
		}
		d.users = docstore.NewUserRepository(d.fsClient)
		d.rides = docstore.NewRideRepository(d.fsClient)
		d.fees = docstore.NewFeeRepository(d.fsClient)
		log.Info("using firestore ride store", zap.String("project", cfg.Firestore.ProjectID))
	default:
		d.db, err = app.NewDatabase(setupCtx, cfg.Database, d.nrApp)
		if err != nil {
			return d, fmt.Errorf("connect to database: %w", err)
		}
		d.users = postgres.NewUserRepository(d.db)
		d.rides = postgres.NewRideRepository(d.db)
		d.fees = postgres.NewFeeRepository(d.db)
		log.Info("using postgres ride store")
	}

	d.redisClient, err = app.NewRedisClient(setupCtx, cfg.Redis, d.nrApp)
	if err != nil {
		return d, fmt.Errorf("connect to redis: %w", err)
	}
	if d.redisClient != nil {
		d.state = internalRedis.NewRunStateStore(d.redisClient, cfg.Repay.LockTTL)
		log.Info("run state kept in redis")
	} else {
		d.state = service.NewLocalRunState()
		log.Warn("REDIS_ADDR not set, run state is not persisted")
	}

	d.pricing = service.PricingOptions{
		DefaultBranch: cfg.Repay.DefaultBranch,
		MaxPrice:      cfg.Repay.MaxPrice,
	}

	var webhook service.WebhookPoster
	if cfg.WebhookURL != "" {
		webhook = notifier.NewWebhook(cfg.WebhookURL)
	}
	sms := notifier.NewSMS(notifier.SMSConfig{
		BaseURL: cfg.SMS.BaseURL,
		APIKey:  cfg.SMS.APIKey,
		Sender:  cfg.SMS.Sender,
	})
	d.notifier = service.NewNotificationService(sms, webhook, service.NotificationOptions{
		LinkBase: cfg.Repay.LinkBase,
		Location: loc,
	}, log)

	return d, nil
}

// runner builds the batch driver. Each runner prices with its own fee
// schedule cache.
func (d *deps) runner() *service.Runner {
	cfg := d.cfg
	iamport := gateway.NewIamport(gateway.Config{
		BaseURL:   cfg.Iamport.BaseURL,
		APIKey:    cfg.Iamport.APIKey,
		APISecret: cfg.Iamport.APISecret,
	}, d.log)
	payments := service.NewPaymentAttempter(iamport, service.PaymentOptions{
		RetryDelay: cfg.Repay.RetryDelay,
	}, d.log)

	pricing := service.NewPriceCalculator(d.fees, d.pricing)
	engine := service.NewEscalationEngine(d.rides, pricing, payments, d.notifier, service.EscalationOptions{
		MaxLevel:       cfg.Repay.MaxLevel,
		CooldownDays:   cfg.Repay.CooldownDays,
		MinRideMinutes: cfg.Repay.MinMinutes,
		Location:       d.loc,
	}, d.log)

	// Validate already checked the cutoff parses.
	cutoff, _ := cfg.CutoffTime(d.loc)
	if owner := cfg.OwnerFilter(); owner != "" {
		d.log.Info("backlog restricted to test owner", zap.String("owner_id", owner))
	}

	return service.NewRunner(d.rides, d.users, engine, d.notifier, d.state, d.nrApp, service.RunOptions{
		DailyQuota: cfg.Repay.DailyQuota,
		PageSize:   cfg.Repay.PageSize,
		Cutoff:     cutoff,
		OwnerID:    cfg.OwnerFilter(),
		Location:   d.loc,
	}, d.log)
}

// overrides builds the manual settlement service.
func (d *deps) overrides() *service.OverrideService {
	return service.NewOverrideService(d.users, d.rides, d.fees, d.pricing, d.log)
}

// server builds the admin HTTP server.
func (d *deps) server() *http.Server {
	cfg := d.cfg
	router := app.NewRouter(app.RouterDeps{
		OverrideHandler: handler.NewOverrideHandler(d.overrides(), d.log),
		RunHandler:      handler.NewRunHandler(d.state, d.loc),
		RedisClient:     d.redisClient,
		NewRelicApp:     d.nrApp,
		Logger:          d.log,
		JWTSecret:       []byte(cfg.Admin.JWTSecret),
		CORSOrigins:     cfg.Admin.CORSOrigins,
		IdempotencyTTL:  cfg.Admin.IdempotencyTTL,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Close releases every open connection and flushes New Relic.
func (d *deps) Close() {
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	if d.fsClient != nil {
		d.fsClient.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
	if d.nrApp != nil {
		d.nrApp.Shutdown(10 * time.Second)
	}
}
