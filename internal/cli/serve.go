package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/storefront/internal/auth"
	"github.com/iliyamo/storefront/internal/config"
	"github.com/iliyamo/storefront/internal/database"
	"github.com/iliyamo/storefront/internal/handler"
	"github.com/iliyamo/storefront/internal/mail"
	"github.com/iliyamo/storefront/internal/middleware"
	"github.com/iliyamo/storefront/internal/oauth"
	"github.com/iliyamo/storefront/internal/ratelimit"
	"github.com/iliyamo/storefront/internal/repository"
	"github.com/iliyamo/storefront/internal/router"
	queue_publisher "github.com/iliyamo/storefront/internal/service"
)

var (
	migrateOnStart bool
	sessionSweep   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply the schema before serving")
	serveCmd.Flags().DurationVar(&sessionSweep, "session-sweep", time.Hour, "Interval between expired session purges (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		return err
	}
	cacheCfg := config.LoadCacheConfig()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if migrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// A nil *redis.Client must not end up inside the interface.
	var rdb redis.UniversalClient
	if c := config.NewRedisClient(ctx); c != nil {
		rdb = c
		defer c.Close()
	} else {
		log.Warn("redis unavailable: in-process rate limits, no user cache")
	}

	limits, err := ratelimit.NewLimits(rlCfg, rdb, time.Now)
	if err != nil {
		return err
	}
	limits.StartJanitor(ctx, rlCfg, time.Now)

	userRepo := repository.NewUserRepo(db)
	var cache auth.UserCache
	if cacheCfg.Enabled && rdb != nil {
		cache = auth.NewRedisUserCache(rdb, cacheCfg.Prefix, cacheCfg.TTL)
	}
	users := auth.NewCachedUsers(userRepo, cache)
	sessionRepo := repository.NewSessionRepo(db)
	sessions := auth.NewManager(sessionRepo, users, cfg.SessionTTL, cfg.SessionRenewWithin, time.Now)
	startSessionSweeper(ctx, sessionRepo, sessionSweep)

	sealer, err := auth.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	mailer := newMailer(cfg)
	cookies := auth.CookieConfig{SessionName: cfg.SessionCookieName, Secure: cfg.CookieSecure}
	paths := auth.DefaultPaths()
	orders := repository.NewOrderRepo(db)

	var states *oauth.StateSigner
	if cfg.OAuthStateSecret != "" {
		states = oauth.NewStateSigner(cfg.OAuthStateSecret, time.Now)
	}
	authHandler := &handler.AuthHandler{
		Cfg:           cfg,
		Users:         userRepo,
		Sessions:      sessions,
		Cache:         users,
		Verifications: repository.NewEmailVerificationRepo(db),
		Resets:        repository.NewPasswordResetRepo(db),
		Limits:        limits,
		Cookies:       cookies,
		Paths:         paths,
		Sealer:        sealer,
		TOTP:          auth.TOTP{Issuer: cfg.TOTPIssuer},
		Mailer:        mailer,
		Google:        oauth.NewGoogleClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL),
		States:        states,
		Now:           time.Now,
	}

	var global ratelimit.Bucket
	if rlCfg.Enabled {
		global = limits.Global
	}

	e := echo.New()
	e.HideBanner = true
	extractor, err := middleware.IPExtractor(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	e.IPExtractor = extractor
	e.Logger.SetLevel(log.Level())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	router.Register(e, router.Handlers{
		Auth:    authHandler,
		Cart:    handler.NewCartHandler(orders),
		Contact: &handler.ContactHandler{Contacts: repository.NewContactRepo(db), Limit: limits.ContactIP, Mailer: mailer, Inbox: cfg.ContactInbox},
		Admin:   &handler.AdminHandler{Sessions: sessions, Cache: users},
		Health:  handler.Health(db),
	}, router.Middleware{
		Session:      middleware.SessionConfig{Manager: sessions, Cookies: cookies, Paths: paths, Orders: orders},
		Global:       global,
		GlobalPolicy: rlCfg.Policies[config.LimitGlobal],
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (env=%s, mail=%s, ratelimit=%s)", addr, cfg.Env, cfg.MailTransport, rlCfg.Backend)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newMailer publishes mail jobs to the broker, or sends inline over SMTP.
func newMailer(cfg config.Config) mail.Mailer {
	if cfg.MailTransport == "smtp" {
		s := cfg.SMTP
		return mail.NewSMTPSender(s.Host, s.Port, s.Username, s.Password, s.From)
	}
	return queue_publisher.NewQueueMailer(cfg.RabbitURL)
}

// startSessionSweeper purges expired sessions on every tick until ctx ends.
func startSessionSweeper(ctx context.Context, repo *repository.SessionRepo, every time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.DeleteExpired(ctx, time.Now())
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, sql.ErrConnDone) {
					log.Warnf("[sessions] purge expired: %v", err)
					continue
				}
				if n > 0 {
					log.Debugf("[sessions] purged %d expired sessions", n)
				}
			}
		}
	}()
}

// redactURL hides credentials in broker addresses before they are logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
