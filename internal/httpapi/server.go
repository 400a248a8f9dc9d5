// Package httpapi exposes the notification triggers, the business
// lifecycle operations and the activity feed as JSON over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"

	"finpipe/internal/activity"
	"finpipe/internal/lifecycle"
	"finpipe/internal/model"
	"finpipe/internal/notifier"
	logx "finpipe/pkg/logx"
)

// Notifier is the lifecycle coordinator.
type Notifier interface {
	NotifyTransition(ctx context.Context, tr lifecycle.Transition) (lifecycle.Report, error)
	ProcessMaturity(ctx context.Context, b lifecycle.MaturityBatch) lifecycle.BatchReport
}

// Lifecycle is the business service that writes records and then notifies.
type Lifecycle interface {
	RegisterUser(ctx context.Context, u model.User) (model.User, error)
	SubmitInvestment(ctx context.Context, userID string, in lifecycle.InvestmentInput) (lifecycle.InvestmentResult, error)
	SubmitWithdrawal(ctx context.Context, userID string, in lifecycle.WithdrawalInput) (lifecycle.WithdrawalResult, error)
	ReviewInvestment(ctx context.Context, id string, d lifecycle.Decision) (lifecycle.InvestmentResult, error)
	ReviewWithdrawal(ctx context.Context, id string, d lifecycle.Decision) (lifecycle.WithdrawalResult, error)
	RunMaturity(ctx context.Context, asOf time.Time) (lifecycle.MaturityResult, error)
}

type Feed interface {
	Aggregate(ctx context.Context, ownerID string) (activity.Feed, error)
}

// Deps are the collaborators behind the routes. Lifecycle and Feed may be
// nil when no store is configured; their routes then answer 503.
type Deps struct {
	Notifier  Notifier
	Lifecycle Lifecycle
	Feed      Feed
	History   func() []notifier.Outcome
	Health    func() any
	Now       func() time.Time
}

type Options struct {
	Pprof bool
}

type Server struct {
	deps   Deps
	log    logx.Logger
	router *gin.Engine
}

func New(deps Deps, log logx.Logger, opts Options) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true

	s := &Server{deps: deps, log: log.With(logx.String("comp", "http")), router: router}
	router.Use(s.recoverJSON(), s.accessLog())
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		notify := api.Group("/notifications")
		notify.POST("/investment-request", s.handleInvestmentRequest)
		notify.POST("/withdrawal-request", s.handleWithdrawalRequest)
		notify.POST("/admin-action", s.handleAdminAction)
		notify.POST("/maturity-batch", s.handleMaturityBatch)
		notify.GET("/history", s.handleHistory)

		api.GET("/activity/:ownerId", s.handleActivity)

		api.PUT("/users/:id", s.handleRegisterUser)
		api.POST("/investments", s.handleSubmitInvestment)
		api.POST("/withdrawals", s.handleSubmitWithdrawal)

		admin := api.Group("/admin")
		admin.POST("/investments/:id/review", s.handleReviewInvestment)
		admin.POST("/withdrawals/:id/review", s.handleReviewWithdrawal)
		admin.POST("/maturity/run", s.handleRunMaturity)
	}

	if opts.Pprof {
		s.mountPprof()
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ServeConfig holds the listener settings.
type ServeConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Ready is called once the listener is bound.
	Ready func(addr string)
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, cfg ServeConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdown)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("http shutdown incomplete", logx.Err(err))
		}
	}()

	addr := ln.Addr().String()
	s.log.Info("http listening", logx.String("addr", addr))
	if cfg.Ready != nil {
		cfg.Ready(addr)
	}

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
		<-stopped
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.log.Warn("request failed", fields...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

func (s *Server) recoverJSON() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("handler panicked", logx.String("path", c.Request.URL.Path), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func (s *Server) mountPprof() {
	g := s.router.Group("/debug/pprof", func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "pprof is loopback only"})
			return
		}
		c.Next()
	})
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	g.GET("/:profile", func(c *gin.Context) {
		hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
}
