package router

import (
	"evapos/internal/config"
	"evapos/internal/handler"
	"evapos/internal/infra"
	"evapos/internal/metrics"
	"evapos/internal/middleware"
	"evapos/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps is everything the route table needs. Services are built by the
// composition root so the worker pool can share them.
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client // optional
	Breaker *infra.CircuitBreaker
	Metrics *metrics.Metrics
	Limiter *middleware.RateLimiter // optional

	Sessions service.CashSessionService
	Sales    service.SaleService
	Refunds  service.RefundService
	Fiscal   service.FiscalService
}

// New returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())

	sessionsH := handler.NewCashSessionHandler(d.Sessions)
	salesH := handler.NewSalesHandler(d.Sales)
	refundsH := handler.NewRefundsHandler(d.Refunds)
	fiscalH := handler.NewFiscalHandler(d.Fiscal)

	// ── Ops ──────────────────────────────────────────────────────────────────
	r.GET("/health", handler.Health(d.DB, d.Redis, d.Breaker))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ── Protected API ────────────────────────────────────────────────────────
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware())
	}

	anyone := middleware.RequireRole(middleware.RoleCashier, middleware.RoleSupervisor, middleware.RoleAdmin)
	managers := middleware.RequireRole(middleware.RoleSupervisor, middleware.RoleAdmin)
	admins := middleware.RequireRole(middleware.RoleAdmin)

	sessions := v1.Group("/cash-sessions")
	{
		sessions.POST("", anyone, sessionsH.Open)
		sessions.GET("/current", anyone, sessionsH.Current)
		sessions.GET("", managers, sessionsH.List)
		sessions.GET("/:id", anyone, sessionsH.Get)
		sessions.POST("/:id/movements", anyone, sessionsH.RecordMovement)
		sessions.POST("/:id/close", anyone, sessionsH.Close)
	}

	sales := v1.Group("/sales")
	{
		sales.POST("", anyone, salesH.Create)
		sales.GET("", anyone, salesH.List)
		sales.GET("/number/:number", anyone, salesH.GetByNumber)
		sales.GET("/:id", anyone, salesH.Get)
		sales.POST("/:id/void", managers, salesH.Void)
		sales.POST("/:id/ticket-printed", anyone, salesH.MarkTicketPrinted)
		sales.GET("/:id/ticket.pdf", anyone, salesH.Ticket)
		sales.POST("/:id/refunds", managers, refundsH.Create)
		sales.GET("/:id/refunds", anyone, refundsH.ListBySale)
	}

	v1.GET("/refunds/:id", anyone, refundsH.Get)
	v1.GET("/vouchers/:code", anyone, refundsH.GetVoucher)
	v1.POST("/vouchers/:code/redeem", anyone, refundsH.RedeemVoucher)

	fiscal := v1.Group("/fiscal-records", managers)
	{
		fiscal.POST("", fiscalH.Create)
		fiscal.GET("", fiscalH.List)
		fiscal.GET("/stats", fiscalH.Stats)
		fiscal.GET("/verify", fiscalH.Verify)
		fiscal.POST("/resume", admins, fiscalH.Resume)
		fiscal.GET("/certificate", fiscalH.Certificate)
		fiscal.GET("/:id", fiscalH.Get)
		fiscal.POST("/:id/submit", fiscalH.Submit)
		fiscal.POST("/:id/cancel", admins, fiscalH.Cancel)
		fiscal.POST("/:id/rectify", admins, fiscalH.Rectify)
	}

	return r
}
