// Package api is the admin HTTP surface of the price worker.
package api

import (
	"time"

	"sjsage522/priceworker/logger"

	"github.com/gin-gonic/gin"
)

// SetupRouter registers the admin routes
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", h.Health)
	r.GET("/preview", h.Preview)
	r.GET("/scheduler/status", h.SchedulerStatus)
	r.POST("/update_prices/all", h.UpdateAll)
	r.POST("/update_prices/one/:product_id", h.UpdateOne)
	r.GET("/price/:product_id", h.LatestPrices)
	r.GET("/price/:product_id/:site_key", h.PriceHistory)

	return r
}

func requestLogger() gin.HandlerFunc {
	log := logger.ForAPI()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}
