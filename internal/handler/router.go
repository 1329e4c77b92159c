package handler

import (
	"pixshop/internal/config"
	"pixshop/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(cfg *config.Config, balanceSvc *service.BalanceService, notifier PaymentNotifier) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewWebhookHandler(balanceSvc, notifier)

	r.GET("/health", h.HandleHealth)

	// 回调端点单独挂IP校验，其余路由不受影响
	webhook := r.Group("/webhook", IPAllowListMiddleware(&cfg.Webhook))
	{
		webhook.POST("/pix", h.HandlePixWebhook)
		webhook.GET("/pix", h.HandleWebhookProbe)
		webhook.POST("/test", h.HandleWebhookTest)
	}

	api := r.Group("/api/v1")
	{
		api.GET("/transaction/:id", h.HandleGetTransaction)
	}

	return r
}
