package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/config"
	"github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/http/api/admin"
	"github.com/watchlistpro/cardstore/internal/http/api/front"
	"github.com/watchlistpro/cardstore/internal/lock"
	"github.com/watchlistpro/cardstore/internal/logging"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/maintenance"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

// settingsRefreshInterval controls how often the settings snapshot is reloaded from the database.
const settingsRefreshInterval = 30 * time.Second

// ErrUserNotFound is returned by PromoteAdmin when no user has the email.
var ErrUserNotFound = errors.New("user not found")

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migrated")
	return nil
}

// PromoteAdmin grants admin rights to the user with the given email.
func PromoteAdmin(ctx context.Context, cfg config.AppConfig, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("email is required")
	}
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return promoteAdmin(ctx, conn, email)
}

func promoteAdmin(ctx context.Context, conn *gorm.DB, email string) error {
	res := conn.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).
		Updates(map[string]any{"is_admin": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	log.WithField("email", email).Info("user promoted to admin")
	return nil
}

// NewEngine builds the gin engine with middleware and all routes.
func NewEngine(deps front.Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(apihttp.Recovery(), apihttp.RequestLogger(), apihttp.CORS(deps.Config.Server.CORSOrigins))
	front.RegisterFrontRoutes(engine, deps)
	admin.RegisterAdminRoutes(engine, deps.DB, deps.Config)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

// RunServer boots the HTTP API and background workers, and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(conf.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	if !log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := db.Open(conf.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings load failed")
	}
	go refreshSettings(ctx, conn, settingsRefreshInterval)

	locker, closeLocker, err := lock.New(ctx, conf.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = closeLocker() }()

	mailer := mail.New(conf.SMTP)
	deps := front.Deps{
		DB:         conn,
		Config:     conf,
		Mailer:     mailer,
		Yoco:       yoco.NewClient(conf.Yoco.SecretKey, conf.Yoco.APIURL, conf.Yoco.Timeout),
		Reconciler: fulfillment.NewReconciler(conn, locker, fulfillment.NewMailNotifier(mailer)),
	}

	maintenance.NewPendingPaymentSweeper(conn, conf.Payments.SweepInterval, conf.Payments.PendingExpiry).Start(ctx)

	server := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           NewEngine(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("cardstore listening on %s (config=%s, provider=%s)", conf.Server.Addr, configPath, conf.Payments.DefaultProvider)
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen := <-errServe:
		return errListen
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

// refreshSettings reloads the settings snapshot so changes made by other instances are picked up.
func refreshSettings(ctx context.Context, conn *gorm.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil && ctx.Err() == nil {
				log.WithError(errRefresh).Warn("settings refresh failed")
			}
		}
	}
}
