package api

import (
	"net/http"

	"github.com/ghostzx3/telegrupos-payments/internal/api/handler"
	"github.com/ghostzx3/telegrupos-payments/internal/api/middleware"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(paymentHandler *handler.PaymentHandler, webhookHandler *handler.WebhookHandler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Tracing(), logger.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks authenticate by signature, not by user token.
	r.POST("/payments/webhook", webhookHandler.HandleWebhook)

	payments := r.Group("/payments", middleware.Auth(jwtSecret))
	{
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("/:id/status", paymentHandler.GetStatus)
	}

	return r
}
