package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/api/dto"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/gin-gonic/gin"
)

// DeliveryHandler serves the enqueue and status endpoints.
type DeliveryHandler struct {
	logger *slog.Logger
	engine Enqueuer
	reader DeliveryReader
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(deps *Dependencies) *DeliveryHandler {
	return &DeliveryHandler{
		logger: deps.Logger,
		engine: deps.Engine,
		reader: deps.Reader,
	}
}

// EnqueueCampaign handles POST /api/v1/campaigns/:campaign_id/enqueue.
// Idempotent per campaign: a second call while a job is live returns
// the same job id.
func (h *DeliveryHandler) EnqueueCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid enqueue request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	runAt := time.Time{}
	if req.RunAt != nil {
		runAt = *req.RunAt
	}

	result, err := h.engine.Enqueue(c.Request.Context(), campaignID, req.SenderID, runAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCampaignNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
		case errors.Is(err, domain.ErrCampaignAlreadySent):
			c.JSON(http.StatusConflict, gin.H{"error": "Campaign already sent"})
		default:
			h.logger.Error("Failed to enqueue campaign",
				slog.String("campaign_id", campaignID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue campaign"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.EnqueueResponse{
		JobID: result.JobID,
		RunAt: result.RunAt,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id.
func (h *DeliveryHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.reader.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{
		JobID:       job.JobID,
		CampaignID:  job.CampaignID,
		SenderID:    job.SenderID,
		Status:      job.Status,
		RunAt:       job.RunAt,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		LastError:   job.LastError,
	})
}

// GetCampaignDelivery handles GET /api/v1/campaigns/:campaign_id/delivery.
func (h *DeliveryHandler) GetCampaignDelivery(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	campaign, err := h.reader.GetCampaign(c.Request.Context(), campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		h.logger.Error("Failed to get campaign",
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get campaign"})
		return
	}

	total, sent, failed, err := h.reader.RecipientTotals(c.Request.Context(), campaignID)
	if err != nil {
		h.logger.Error("Failed to compute delivery totals",
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute delivery totals"})
		return
	}

	c.JSON(http.StatusOK, dto.DeliveryStatusResponse{
		CampaignID: campaignID,
		Status:     campaign.Status,
		Total:      total,
		Sent:       sent,
		Failed:     failed,
		Pending:    total - sent - failed,
		SentAt:     campaign.SentAt,
	})
}
