package router

import (
	"net/http"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/api/handler"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(metrics.Middleware())
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "campaign-delivery-api",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deliveryHandler := handler.NewDeliveryHandler(deps)
	trackingHandler := handler.NewTrackingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		campaigns := v1.Group("/campaigns")
		{
			// POST /api/v1/campaigns/:campaign_id/enqueue - Queue a campaign send
			campaigns.POST("/:campaign_id/enqueue", deliveryHandler.EnqueueCampaign)

			// GET /api/v1/campaigns/:campaign_id/delivery - Delivery aggregates
			campaigns.GET("/:campaign_id/delivery", deliveryHandler.GetCampaignDelivery)
		}

		// GET /api/v1/jobs/:job_id - Job details
		v1.GET("/jobs/:job_id", deliveryHandler.GetJob)
	}

	// Signed tracking endpoints, hit from recipients' mail clients
	t := r.Group("/t")
	{
		t.GET("/open", trackingHandler.Open)
		t.GET("/click", trackingHandler.Click)
		t.GET("/unsubscribe", trackingHandler.Unsubscribe)
	}

	return r
}
