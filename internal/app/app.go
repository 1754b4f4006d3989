package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/billing"
	"github.com/openresident/cardservice/internal/config"
	"github.com/openresident/cardservice/internal/db"
	"github.com/openresident/cardservice/internal/eligibility"
	adminapi "github.com/openresident/cardservice/internal/http/api/admin"
	"github.com/openresident/cardservice/internal/http/api/front"
	"github.com/openresident/cardservice/internal/logging"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	"github.com/openresident/cardservice/internal/payment"
	"github.com/openresident/cardservice/internal/pricing"
	"github.com/openresident/cardservice/internal/registration"
	"github.com/openresident/cardservice/internal/reminder"
	"github.com/openresident/cardservice/internal/security"
	"github.com/openresident/cardservice/internal/settings"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	_ = ctx
	return db.Migrate(conn)
}

// RunServer boots the card service.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := settings.EnsureDefaults(ctx, conn); errSeed != nil {
		return errSeed
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return errRefresh
	}
	seedDefaultAdmin(ctx, conn)

	pendingStore := buildPendingStore(ctx, cfg.Redis)
	gateway := payment.NewGateway(cfg.Gateway)
	notifier := buildNotifier(cfg.Notification)

	validator := eligibility.NewValidator(conn)
	resolver := address.NewResolver(conn)
	priceService := pricing.NewService(conn)
	reminderService := reminder.NewService(conn, resolver)
	recorder := billing.NewGormRecorder(conn)

	regService := registration.NewService(conn, validator, resolver, priceService, gateway, pendingStore, notifier, reminderService)
	reconciler := payment.NewReconciler(conn, gateway, pendingStore, recorder, notifier, reminderService)
	scheduler := reminder.NewScheduler(reminderService, notifier)

	scheduler.Start(ctx)
	reminder.NewStatusUpdater(conn).Start(ctx)
	payment.NewCallbackLogCleaner(conn).Start(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	front.RegisterFrontRoutes(engine, cfg.JWT, regService, gateway, reconciler)
	adminapi.RegisterAdminRoutes(engine, conn, cfg.JWT, regService, priceService, scheduler, reminderService)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("card service listening on %s", cfg.Listen)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
		return <-errCh
	case errServe := <-errCh:
		return errServe
	}
}

// buildPendingStore prefers redis for the orderID mapping so callbacks
// survive a restart; without redis the in-process store is used and the
// callback falls back to the stored transaction reference.
func buildPendingStore(ctx context.Context, cfg config.RedisConfig) payment.PendingStore {
	if cfg.Addr == "" {
		log.Info("pending payment store: in-memory (no redis configured)")
		return payment.NewMemoryPendingStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warn("pending payment store: redis unreachable, falling back to in-memory")
		return payment.NewMemoryPendingStore()
	}
	log.Infof("pending payment store: redis at %s", cfg.Addr)
	return payment.NewRedisPendingStore(client)
}

func buildNotifier(cfg config.NotificationConfig) notify.Dispatcher {
	if dispatcher := notify.NewWebhookDispatcher(cfg); dispatcher != nil {
		return dispatcher
	}
	log.Info("notifications: no webhook configured, logging only")
	return notify.LogDispatcher{}
}

// seedDefaultAdmin creates the first admin account when the table is empty
// and CARDSERVICE_ADMIN_PASSWORD is set.
func seedDefaultAdmin(ctx context.Context, conn *gorm.DB) {
	var count int64
	if errCount := conn.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		log.WithError(errCount).Warn("admin seed: count failed")
		return
	}
	if count > 0 {
		return
	}

	password := os.Getenv("CARDSERVICE_ADMIN_PASSWORD")
	if password == "" {
		log.Warn("admin seed: no admins exist and CARDSERVICE_ADMIN_PASSWORD is unset")
		return
	}
	hash, errHash := security.HashAdminPassword(password)
	if errHash != nil {
		log.WithError(errHash).Warn("admin seed: hash failed")
		return
	}
	admin := models.Admin{
		Username:    "admin",
		Password:    hash,
		DisplayName: "Administrator",
		Active:      true,
	}
	if errCreate := conn.WithContext(ctx).Create(&admin).Error; errCreate != nil {
		log.WithError(errCreate).Warn("admin seed: create failed")
		return
	}
	log.Info("admin seed: created default admin account")
}
