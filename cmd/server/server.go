package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/pravoai/pravo-api/internal/assistant"
	"github.com/pravoai/pravo-api/internal/auth"
	"github.com/pravoai/pravo-api/internal/chat"
	"github.com/pravoai/pravo-api/internal/config"
	"github.com/pravoai/pravo-api/internal/events"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/pravoai/pravo-api/internal/metrics"
	"github.com/pravoai/pravo-api/internal/storage/sqldb"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
)

// app holds everything main has to start and stop.
type app struct {
	handler http.Handler

	db         *sqldb.Database
	nc         *nats.Conn
	broker     *events.NATSBroker
	dispatcher *assistant.Dispatcher
	sweeper    *cron.Cron
	logger     *logger.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{logger: log}

	userStore, chatStore, err := a.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	validators, issuer, err := newValidators(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	hub := events.NewHub(cfg.WSMaxConnectionsPerUser, log)
	publisher, err := a.newPublisher(cfg, hub)
	if err != nil {
		a.close()
		return nil, err
	}

	chatService := chat.NewService(chatStore, chat.NewIDGenerator(), cfg.Assistant.WelcomeMessage, publisher, log)
	a.dispatcher = assistant.NewDispatcher(
		assistant.NewResponder(cfg.Assistant.Responses, uint64(time.Now().UnixNano())),
		chatService,
		assistant.Options{
			Delay:     cfg.Assistant.ReplyDelay,
			Workers:   cfg.Assistant.Workers,
			QueueSize: cfg.Assistant.QueueSize,
		},
		log,
	)
	chatService.SetReplyScheduler(a.dispatcher)

	revoked := auth.NewRevocationList()
	a.sweeper, err = revoked.StartSweeper(cfg.RevocationSweepSchedule, log)
	if err != nil {
		a.shutdown()
		return nil, fmt.Errorf("failed to start revocation sweeper: %w", err)
	}

	authService := auth.NewService(userStore, auth.NewPasswordHasher(cfg.BcryptCost), issuer, revoked, chatService, log)

	router := newRouter(cfg, log, routes{
		auth:       auth.NewHandler(authService, log),
		middleware: auth.NewMiddleware(revoked, validators...),
		chats:      chat.NewHandler(chatService, log),
		events:     events.NewHandler(hub, cfg.AllowedOrigins(), log),
	})

	a.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", logger.RequestIDHeader},
		ExposedHeaders:   []string{logger.RequestIDHeader},
		AllowCredentials: true,
	}).Handler(router)

	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg *config.Config) (auth.UserStore, chat.Store, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory storage, accounts and chats are lost on restart")
		return auth.NewMemoryUserStore(), chat.NewMemoryStore(), nil
	}

	db, err := sqldb.Open(ctx, sqldb.Options{
		Driver:          cfg.StorageDriver,
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	a.logger.Info("database ready", slog.String("dialect", db.Dialect))
	return auth.NewSQLUserStore(db.DB), chat.NewSQLStore(db.DB), nil
}

// newValidators always accepts locally issued tokens; "jwk" adds an external provider.
func newValidators(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]auth.TokenValidator, *auth.TokenIssuer, error) {
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	validators := []auth.TokenValidator{issuer}

	if cfg.ValidatorType == config.ValidatorTypeJWK {
		if cfg.JWTJWKSURL == "" {
			log.Warn("JWT_JWKS_URL is empty, external tokens are accepted without verification")
		}
		jwkValidator, err := auth.NewJWKValidator(ctx, cfg.JWTJWKSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create JWK token validator: %w", err)
		}
		validators = append(validators, jwkValidator)
		log.Info("accepting external tokens", slog.String("jwks_url", cfg.JWTJWKSURL))
	}

	return validators, issuer, nil
}

func (a *app) newPublisher(cfg *config.Config, hub *events.Hub) (events.Publisher, error) {
	if cfg.NatsURL == "" {
		return events.NewLocalBroker(hub), nil
	}

	nc, err := nats.Connect(cfg.NatsURL,
		nats.Name("pravo-api-"+logger.GetInstanceID()),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.nc = nc

	broker := events.NewNATSBroker(nc, hub, a.logger)
	if err := broker.Start(); err != nil {
		return nil, err
	}
	a.broker = broker
	return broker, nil
}

// shutdown stops background work. Pending assistant replies are written first so
// they can still reach the database and other instances.
func (a *app) shutdown() {
	if a.dispatcher != nil {
		a.dispatcher.Shutdown()
	}
	if a.sweeper != nil {
		<-a.sweeper.Stop().Done()
	}
	a.close()
}

func (a *app) close() {
	if a.broker != nil {
		if err := a.broker.Stop(); err != nil {
			a.logger.Error("failed to stop nats broker", slog.String("error", err.Error()))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Error("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
}

type routes struct {
	auth       *auth.Handler
	middleware *auth.Middleware
	chats      *chat.Handler
	events     *events.Handler
}

func newRouter(cfg *config.Config, log *logger.Logger, r routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		router.GET("/metrics", metrics.Handler())
	}

	router.POST("/register", r.auth.Register)
	router.POST("/login", r.auth.Login)

	session := router.Group("/")
	session.Use(r.middleware.RequireAuth())
	{
		session.POST("/logout", r.auth.Logout)
		session.GET("/me", r.auth.Me)
	}

	api := router.Group("/api/v1")
	api.Use(r.middleware.RequireAuth())
	{
		chats := api.Group("/chats")
		{
			chats.GET("", r.chats.ListChats)
			chats.POST("/messages", r.chats.SendMessage)
			chats.GET("/:chatId", r.chats.GetChat)
			chats.DELETE("/:chatId", r.chats.DeleteChat)
		}

		workspace := api.Group("/workspace")
		{
			workspace.GET("", r.chats.Workspace)
			workspace.PUT("/active", r.chats.SelectChat)
			workspace.DELETE("/active", r.chats.NewChat)
		}

		api.GET("/events", r.events.Listen)
	}

	return router
}
