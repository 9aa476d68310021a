// Package app wires the service together: key material, store, per-platform
// clients and limiters, the refresh orchestrator, the background sweeper and
// the HTTP surface.
package app

import (
	"github.com/gorilla/mux"

	"social-oauth/internal/auth"
	"social-oauth/internal/broker"
	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/config"
	"social-oauth/internal/crypto"
	"social-oauth/internal/handlers"
	"social-oauth/internal/keystore"
	"social-oauth/internal/middleware"
	"social-oauth/internal/platform"
	"social-oauth/internal/ratelimit"
	"social-oauth/internal/refresh"
	"social-oauth/internal/state"
	"social-oauth/internal/store"
	"social-oauth/internal/tokens"
)

// App holds all the application dependencies.
type App struct {
	Config       *config.Config
	Store        *store.TokenStore
	Manager      *tokens.Manager
	Clients      map[tokens.Platform]platform.Client
	Orchestrator *refresh.Orchestrator
	Sweeper      *refresh.Sweeper
	Broker       *broker.Broker
	Auth         *auth.Service
	Handlers     *handlers.Handlers
	Logger       logging.Logger
}

// New builds the dependency graph. Components are constructed in dependency
// order; a failure anywhere aborts boot. Platforms without credentials are
// skipped rather than failing the whole service.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger.WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	key, err := keystore.New(cfg.EncryptionKeyPath, logger).LoadOrCreate()
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		return nil, err
	}

	tokenStore, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	app.Store = tokenStore
	app.Manager = tokens.NewManager(cipher, tokenStore, logger)

	clients, limiters, err := buildPlatforms(cfg, logger)
	if err != nil {
		tokenStore.Close()
		return nil, err
	}
	app.Clients = clients

	var hook *refresh.NotificationHook
	if cfg.NotifyEndpoint != "" {
		hook = refresh.NewNotificationHook(cfg.NotifyEndpoint, cfg.NotifyAPIKey, logger)
	}

	app.Orchestrator = refresh.NewOrchestrator(app.Manager, tokenStore, clients, limiters, hook, logger)
	app.Orchestrator.SetLookahead(cfg.RefreshLookahead)
	app.Sweeper = refresh.NewSweeper(app.Orchestrator, cfg.SweepSchedule, logger)

	app.Broker = broker.New(state.NewCodec(cipher), clients, app.Orchestrator, logger)

	app.Auth, err = auth.New(cfg.JWTSecret, logger)
	if err != nil {
		tokenStore.Close()
		return nil, err
	}
	app.Handlers = handlers.New(app.Broker, tokenStore, logger)

	return app, nil
}

// buildPlatforms constructs a client and limiter for every platform that has
// credentials configured.
func buildPlatforms(cfg *config.Config, logger logging.Logger) (map[tokens.Platform]platform.Client, map[tokens.Platform]ratelimit.Limiter, error) {
	clients := make(map[tokens.Platform]platform.Client)
	limiters := make(map[tokens.Platform]ratelimit.Limiter)

	for _, name := range config.PlatformNames {
		pc := cfg.Platforms[name]
		if !pc.Enabled() {
			logger.Info("platform disabled: no credentials configured",
				logging.String("platform", name))
			continue
		}

		p, err := tokens.ParsePlatform(name)
		if err != nil {
			return nil, nil, err
		}

		limiter := ratelimit.NewPlatformLimiter(name, ratelimit.Config{
			Policy:            ratelimit.Policy(pc.RatePolicy),
			RequestsPerSecond: pc.RequestsPerSecond,
			MaxPerMinute:      int64(pc.MaxPerMinute),
		}, logger)

		clientConfig := platform.Config{
			ClientID:       pc.ClientID,
			ClientSecret:   pc.ClientSecret,
			ConsumerKey:    pc.ConsumerKey,
			ConsumerSecret: pc.ConsumerSecret,
			CallbackURL:    pc.CallbackURL,
		}

		var client platform.Client
		switch p {
		case tokens.PlatformTwitter:
			client, err = platform.NewTwitter(clientConfig, limiter, logger)
		case tokens.PlatformLinkedIn:
			client, err = platform.NewLinkedIn(clientConfig, limiter, logger)
		case tokens.PlatformFacebook:
			client, err = platform.NewFacebook(clientConfig, limiter, logger)
		case tokens.PlatformInstagram:
			client, err = platform.NewInstagram(clientConfig, limiter, logger)
		}
		if err != nil {
			return nil, nil, err
		}

		clients[p] = client
		limiters[p] = limiter
	}

	if len(clients) == 0 {
		return nil, nil, errors.ConfigError("no platform credentials configured")
	}
	return clients, limiters, nil
}

// Router builds the HTTP routing table with service-token auth on the API.
func (app *App) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(middleware.Logging(app.Logger)))
	app.Handlers.RegisterRoutes(router, app.Auth.Middleware)
	return router
}

// Cleanup releases all resources.
func (app *App) Cleanup() {
	if app.Sweeper != nil {
		app.Sweeper.Stop()
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
