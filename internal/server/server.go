package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/config"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	royaltydomain "github.com/mokanda/livraly/internal/royalty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	gatewaySvc   gatewaydomain.Service
	ledgerSvc    ledgerdomain.Service
	invoiceSvc   invoicedomain.Service
	recurringSvc recurringdomain.Service
	royaltySvc   royaltydomain.Service
	configSvc    configdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	GatewaySvc   gatewaydomain.Service
	LedgerSvc    ledgerdomain.Service
	InvoiceSvc   invoicedomain.Service
	RecurringSvc recurringdomain.Service
	RoyaltySvc   royaltydomain.Service
	ConfigSvc    configdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		gatewaySvc:   p.GatewaySvc,
		ledgerSvc:    p.LedgerSvc,
		invoiceSvc:   p.InvoiceSvc,
		recurringSvc: p.RecurringSvc,
		royaltySvc:   p.RoyaltySvc,
		configSvc:    p.ConfigSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)

	v1.POST("/invoices", s.CreateInvoice)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.POST("/invoices/:id/void", s.VoidInvoice)

	v1.POST("/subscriptions", s.CreateSubscription)
	v1.GET("/subscriptions", s.ListSubscriptions)
	v1.GET("/subscriptions/:id", s.GetSubscription)
	v1.POST("/subscriptions/:id/pause", s.PauseSubscription)
	v1.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	v1.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	v1.GET("/transactions", s.ListTransactions)
	v1.GET("/transactions/:id", s.GetTransaction)

	v1.POST("/royalties/compute", s.ComputeRoyalties)
	v1.POST("/royalties/corrections", s.CorrectRoyalty)
	v1.GET("/authors/:id/royalties", s.GetAuthorRoyalties)
	v1.POST("/authors/:id/payouts", s.PayAuthorRoyalties)

	v1.POST("/billing-config", s.SetBillingConfig)
	v1.GET("/billing-config/:type/:key/history", s.BillingConfigHistory)
}
