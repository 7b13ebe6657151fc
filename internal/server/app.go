// Package server wires the authentication services together and runs the
// HTTP API, the gRPC introspection service and the retention sweeper until
// the process is signalled.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/config"
	"github.com/dmitrijs2005/waterauth/internal/server/events"
	"github.com/dmitrijs2005/waterauth/internal/server/federation"
	"github.com/dmitrijs2005/waterauth/internal/server/httpapi"
	"github.com/dmitrijs2005/waterauth/internal/server/notify"
	"github.com/dmitrijs2005/waterauth/internal/server/retention"
	"github.com/dmitrijs2005/waterauth/internal/server/revocation"
	"github.com/dmitrijs2005/waterauth/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/waterauth/internal/server/grpc"
)

const denylistPurgeInterval = time.Minute

type App struct {
	config      *config.Config
	logger      logging.Logger
	authService *services.AuthService
	issuer      *auth.TokenIssuer
	google      httpapi.OAuthProvider
	sweeper     *retention.Sweeper
	memDenylist *revocation.MemoryDenylist
	closers     []func() error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.Env, os.Stdout)
	app := &App{config: c, logger: logger}

	storage, err := OpenStorage(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, storage.Close)

	denylist, err := app.newDenylist(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.issuer = auth.NewTokenIssuer(c.SecretKey, c.Issuer, c.Audience, c.AccessTokenValidityDuration, denylist)

	archiver, err := NewArchiver(ctx, c)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.sweeper = retention.NewSweeper(storage.Tx, storage.Repositories, archiver, c.Retention.Age, logger)

	otps := services.NewOtpService(storage.Tx, storage.Repositories, logger)
	sessions := services.NewSessionService(storage.Tx, storage.Repositories, app.issuer, c.RefreshTokenValidityDuration, logger)

	app.authService = services.NewAuthService(services.AuthDeps{
		Transactor:   storage.Tx,
		Repositories: storage.Repositories,
		Hasher:       auth.NewPasswordHasher(),
		Tokens:       app.issuer,
		Otps:         otps,
		Sessions:     sessions,
		Sms:          app.newSmsSender(),
		Email:        app.newEmailSender(),
		Events:       app.newPublisher(),
		Logger:       logger,
	})

	if c.Google.ClientID != "" {
		app.google = federation.NewGoogleProvider(c.Google.ClientID, c.Google.ClientSecret, c.Google.RedirectURL)
	}

	return app, nil
}

func (app *App) newDenylist(ctx context.Context) (auth.Denylist, error) {
	if app.config.Redis.Addr == "" {
		app.logger.Warn(ctx, "No Redis address configured, revoked tokens are kept in memory")
		app.memDenylist = revocation.NewMemoryDenylist()
		return app.memDenylist, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	app.closers = append(app.closers, client.Close)
	return revocation.NewRedisDenylist(client), nil
}

func (app *App) newSmsSender() notify.SmsSender {
	c := app.config.SMS
	if c.GatewayURL == "" {
		return notify.NewLogSender(app.logger)
	}
	return notify.NewHTTPSmsSender(c.GatewayURL, c.APIKey, c.Sender, c.DefaultCountryCode, c.Timeout)
}

func (app *App) newEmailSender() notify.EmailSender {
	c := app.config.SMTP
	if c.Host == "" {
		return notify.NewLogSender(app.logger)
	}
	return notify.NewSMTPEmailSender(c.Host, c.Port, c.Username, c.Password, c.From)
}

func (app *App) newPublisher() events.Publisher {
	c := app.config.Kafka
	if len(c.Brokers) == 0 {
		return events.NoopPublisher{}
	}
	p := events.NewKafkaPublisher(c.Brokers, c.Topic, app.config.Issuer)
	app.closers = append(app.closers, p.Close)
	return p
}

// Close releases connections in reverse order of creation.
func (app *App) Close() error {
	return closeAll(app.closers)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.authService, app.issuer, app.google, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.issuer, app.authService)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) purgeDenylist(ctx context.Context) {
	ticker := time.NewTicker(denylistPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.memDenylist.Purge(); n > 0 {
				app.logger.Debug(ctx, "purged revocation list", "entries", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.Retention.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.sweeper.Run(ctx, app.config.Retention.Interval)
		}()
	}

	if app.memDenylist != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.purgeDenylist(ctx)
		}()
	}

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "error closing resources", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
