package handler

import (
	"fanbid/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		auctions := api.Group("/auctions")
		{
			auctions.GET("", h.ListAuctions)
			auctions.GET("/:id", h.GetAuction)
			auctions.GET("/:id/bids", h.ListBids)

			authed := auctions.Group("", RequireUser())
			authed.POST("", h.CreateAuction)
			authed.POST("/:id/bids", h.PlaceBid)
			authed.POST("/:id/buy-now", h.BuyNow)
		}

		wallet := api.Group("/wallet", RequireUser())
		{
			wallet.GET("", h.GetWallet)
			wallet.GET("/transactions", h.ListTransactions)
		}

		admin := api.Group("/admin", RequireAdmin(cfg.Admin.Token))
		{
			admin.POST("/auctions/:id/close", h.ForceClose)
			admin.POST("/auctions/:id/cancel", h.CancelAuction)
			admin.DELETE("/auctions/:id", h.DeleteAuction)
			admin.POST("/wallets/:user_id/adjust", h.AdjustBalance)
			admin.POST("/wallets/:user_id/purchase", h.CreditPurchase)
			admin.GET("/wallets/:user_id/reconcile", h.Reconcile)
			admin.POST("/sweep", h.RunSweep)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
