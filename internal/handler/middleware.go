package handler

import (
	"log"
	"time"

	"pixshop/internal/config"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IPAllowListMiddleware 回调来源IP校验
// GET 和空请求体放行：网关登记 webhook 前会发连通性探测，
// 探测请求可能来自别的出口
func IPAllowListMiddleware(cfg *config.WebhookConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowedIPs))
	for _, ip := range cfg.AllowedIPs {
		allowed[ip] = true
	}

	return func(c *gin.Context) {
		if !cfg.ValidateIP || len(allowed) == 0 {
			c.Next()
			return
		}
		if c.Request.Method == "GET" || c.Request.ContentLength == 0 {
			c.Next()
			return
		}
		if !allowed[c.ClientIP()] {
			log.Printf("[WEBHOOK] 拒绝来源IP: %s", c.ClientIP())
			c.AbortWithStatusJSON(403, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
