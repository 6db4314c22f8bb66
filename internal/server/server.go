package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/db"
	"github.com/rewear/apiserver/internal/handlers"
	"github.com/rewear/apiserver/internal/logger"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
	"github.com/rewear/apiserver/internal/store"
)

// Services groups the use-case layer shared by the HTTP server and the
// background commands.
type Services struct {
	Users         *services.UserService
	Items         *services.ItemService
	Swaps         *services.SwapService
	Exchange      *services.ExchangeService
	Notifications *services.NotificationService
}

// NewServices wires repositories over dbConn into services. images and
// events may be nil.
func NewServices(cfg config.Config, dbConn *sql.DB, images *storage.Storage, events services.EventPublisher) Services {
	userRepo := store.NewUserRepository(dbConn)
	itemRepo := store.NewItemRepository(dbConn)
	swapRepo := store.NewSwapRepository(dbConn)
	pointsRepo := store.NewPointsRepository(dbConn)
	notificationRepo := store.NewNotificationRepository(dbConn)

	return Services{
		Users:         services.NewUserService(userRepo, pointsRepo, cfg.Points.Starting),
		Items:         services.NewItemService(itemRepo, swapRepo, pointsRepo, images, cfg.Points.ListingReward),
		Swaps:         services.NewSwapService(swapRepo),
		Exchange:      services.NewExchangeService(store.NewLedgerStore(dbConn), events),
		Notifications: services.NewNotificationService(notificationRepo),
	}
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.WithComponent("server")

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	images, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if images != nil {
		if err := images.EnsureBucket(ctx); err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
	} else {
		log.Warn("object storage disabled, image uploads will be rejected")
	}

	bus, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init mq: %w", err)
	}
	var events services.EventPublisher
	if bus != nil {
		events = mq.NewEventPublisher(bus, cfg.MQ.Channel)
	} else {
		log.Warn("message queue disabled, exchange events will not be published")
	}

	svc := NewServices(cfg, dbConn, images, events)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	Routes(router, cfg, svc, images)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         bus,
	}, nil
}

// Routes mounts every API route on r.
func Routes(r chi.Router, cfg config.Config, svc Services, images *storage.Storage) {
	authHandler := handlers.NewAuthHandler(svc.Users, cfg.JWT.Secret, cfg.JWT.TokenTTL)
	authMiddleware := authHandler.Authenticate

	r.Get("/healthz", handlers.Healthz)
	r.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	r.Route("/items", func(r chi.Router) {
		handlers.ItemRouter(r, svc.Items, svc.Exchange, authMiddleware)
	})
	r.Route("/swap-requests", func(r chi.Router) {
		handlers.SwapRouter(r, svc.Swaps, svc.Exchange, authMiddleware)
	})
	r.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, svc.Users, svc.Swaps, svc.Items, authMiddleware)
	})
	r.Route("/notifications", func(r chi.Router) {
		handlers.NotificationRouter(r, svc.Notifications, authMiddleware)
	})
	r.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, svc.Users, svc.Items, svc.Notifications, authMiddleware)
	})
	r.Route("/images", func(r chi.Router) {
		handlers.ImageRouter(r, images)
	})
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
