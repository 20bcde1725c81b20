package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/auth"
	"github.com/locolive/ephemeral/internal/metrics"
	"github.com/locolive/ephemeral/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	contentHandler      *ContentHandler
	notificationHandler *NotificationHandler
	liveHandler         *LiveHandler
	healthHandler       *HealthHandler
	jwtManager          *auth.JWTManager
	corsOrigins         []string
	uploadsDir          string
	logger              *zap.Logger
}

// NewRouter creates a new router. uploadsDir, when set, is served under /uploads.
func NewRouter(
	contentHandler *ContentHandler,
	notificationHandler *NotificationHandler,
	liveHandler *LiveHandler,
	healthHandler *HealthHandler,
	jwtManager *auth.JWTManager,
	corsOrigins []string,
	uploadsDir string,
	logger *zap.Logger,
) *Router {
	return &Router{
		contentHandler:      contentHandler,
		notificationHandler: notificationHandler,
		liveHandler:         liveHandler,
		healthHandler:       healthHandler,
		jwtManager:          jwtManager,
		corsOrigins:         corsOrigins,
		uploadsDir:          uploadsDir,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.corsOrigins))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})
	r.Handle("/metrics", metrics.Handler())

	if rt.uploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.uploadsDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(rt.jwtManager))

		// websocket upgrades must not pass through Compress
		if rt.liveHandler != nil {
			r.Get("/ws", rt.liveHandler.Connect)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))

			r.Route("/content", func(r chi.Router) {
				r.Post("/", rt.contentHandler.CreateContent)
				r.Get("/", rt.contentHandler.ListActive)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", rt.contentHandler.GetContent)
					r.Delete("/", rt.contentHandler.DeleteContent)
					r.Post("/views", rt.contentHandler.RecordView)
					r.Get("/views/me", rt.contentHandler.HasViewed)
					r.Get("/viewers", rt.contentHandler.ViewerCount)
					r.Post("/screenshots", rt.contentHandler.ReportScreenshot)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.GetNotifications)
				r.Put("/{id}/read", rt.notificationHandler.MarkRead)
			})
			r.Put("/devices/token", rt.notificationHandler.UpdateDeviceToken)
		})
	})

	return r
}
