package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/config"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	maildomain "github.com/smallbiznis/memberhub/internal/maildomain/domain"
	obslogger "github.com/smallbiznis/memberhub/internal/observability/logger"
	obstracing "github.com/smallbiznis/memberhub/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"github.com/smallbiznis/memberhub/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http"), classifyErrorForLog))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// mollieWebhooks is satisfied by *webhook.Service.
type mollieWebhooks interface {
	HandleMollieWebhook(ctx context.Context, providerPaymentID string) error
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	orgRepo     orgdomain.Repository
	packageSvc  packagedomain.Service
	pendingSvc  pendingdomain.Service
	charger     pendingdomain.Charger
	invoiceSvc  invoicedomain.Service
	creditSvc   creditdomain.Service
	mailDomains maildomain.Service
	webhooks    mollieWebhooks
	limiter     *ratelimit.RequestLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	OrgRepo     orgdomain.Repository
	PackageSvc  packagedomain.Service
	PendingSvc  pendingdomain.Service
	Charger     pendingdomain.Charger
	InvoiceSvc  invoicedomain.Service
	CreditSvc   creditdomain.Service
	MailDomains maildomain.Service
	Webhooks    *webhook.Service
	Limiter     *ratelimit.RequestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		log:    p.Log.Named("http.server"),

		orgRepo:     p.OrgRepo,
		packageSvc:  p.PackageSvc,
		pendingSvc:  p.PendingSvc,
		charger:     p.Charger,
		invoiceSvc:  p.InvoiceSvc,
		creditSvc:   p.CreditSvc,
		mailDomains: p.MailDomains,
		webhooks:    p.Webhooks,
		limiter:     p.Limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.Use(s.RateLimit("webhooks"))
	hooks.POST("/mollie", s.HandleMollieWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.Use(s.RateLimit("api"))
	api.Use(s.APITokenRequired())

	orgs := api.Group("/organizations/:id")
	orgs.POST("/billing/charge", s.ChargeOrganization)
	orgs.POST("/billing/queue", s.QueueOrganization)
	orgs.GET("/billing/status", s.GetBillingStatus)
	orgs.POST("/dns/validate", s.ValidateDNSRecords)

	api.POST("/packages/:id/renew", s.RenewPackage)

	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/refund", s.RefundInvoice)
}
