package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"courtbooking/internal/auth"
	"courtbooking/internal/backup"
	"courtbooking/internal/booking"
	"courtbooking/internal/lifecycle"
	"courtbooking/internal/rule"
)

// Handlers are the per-package HTTP handlers the router dispatches to.
type Handlers struct {
	Auth      *auth.Handler
	Bookings  *booking.Handler
	Rules     *rule.Handler
	Lifecycle *lifecycle.Handler
	Backup    *backup.Handler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	router *gin.Engine
	http   *http.Server
}

func New(h Handlers, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(), MetricsMiddleware(), cors.New(corsConfig(opts.AllowedOrigins)))

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())

	public := router.Group("/")
	public.Use(RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst))
	{
		public.POST("/auth/login", h.Auth.Login)
		public.POST("/auth/refresh", h.Auth.Refresh)
		public.GET("/lifecycle", h.Lifecycle.GetState)
		public.GET("/dates", h.Bookings.ListDates)
		public.GET("/bookings/:date", h.Bookings.ListBookings)
		public.PUT("/bookings", h.Bookings.CreateBooking)
		public.DELETE("/bookings", h.Bookings.CancelBooking)
	}

	admin := router.Group("/admin")
	admin.Use(auth.AuthMiddleware(opts.JWTSecret), auth.RequireRole(auth.AdminRole))
	{
		admin.GET("/bookings", h.Bookings.ListAllBookings)
		admin.DELETE("/bookings", h.Bookings.DeleteAllBookings)

		admin.GET("/rules", h.Rules.ListRules)
		admin.PUT("/rules", h.Rules.CreateRule)
		admin.DELETE("/rules", h.Rules.DeleteRule)
		admin.DELETE("/rules/all", h.Rules.DeleteAllRules)
		admin.PUT("/rules/exclusions", h.Rules.AddExclusion)
		admin.DELETE("/rules/exclusions", h.Rules.DeleteExclusion)
		admin.POST("/rules/apply/:date", h.Rules.ApplyRules)

		admin.PUT("/lifecycle", h.Lifecycle.SetState)

		admin.POST("/backup", h.Backup.Backup)
		admin.GET("/backup/latest", h.Backup.Latest)
		admin.POST("/restore", h.Backup.Restore)
	}

	return &Server{router: router}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", RequestIDHeader}
	config.ExposeHeaders = []string{RequestIDHeader}
	return config
}
