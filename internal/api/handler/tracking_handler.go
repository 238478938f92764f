package handler

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/metrics"
	"github.com/Steliosgeox/kktires-crm-sub002/internal/tracking"
	"github.com/gin-gonic/gin"
)

// transparent 1x1 GIF served by the open pixel
var pixelGIF, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// TrackingHandler serves the three stateless signed endpoints. Every
// request is verified against its signature before anything is
// persisted; a bad signature is a plain 403 with no side effects.
type TrackingHandler struct {
	logger  *slog.Logger
	signer  *tracking.Signer
	tracker TrackingStore
}

// NewTrackingHandler creates a TrackingHandler.
func NewTrackingHandler(deps *Dependencies) *TrackingHandler {
	return &TrackingHandler{
		logger:  deps.Logger,
		signer:  deps.Signer,
		tracker: deps.Tracker,
	}
}

// Open handles GET /t/open: records the open and serves the pixel.
func (h *TrackingHandler) Open(c *gin.Context) {
	campaignID := c.Query("c")
	recipientID := c.Query("r")

	if !h.signer.Verify(tracking.PurposeOpen, campaignID, recipientID, "", c.Query("s")) {
		c.Status(http.StatusForbidden)
		return
	}

	if err := h.tracker.MarkRecipientOpened(c.Request.Context(), campaignID, recipientID); err != nil {
		// Still serve the pixel; tracking is best effort.
		h.logger.Warn("Failed to record open",
			slog.String("campaign_id", campaignID),
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.RecordTrackingEvent("open")
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/gif", pixelGIF)
}

// Click handles GET /t/click: records the click and redirects to the
// verified destination. The destination is part of the signed tuple,
// so a tampered URL fails verification.
func (h *TrackingHandler) Click(c *gin.Context) {
	campaignID := c.Query("c")
	recipientID := c.Query("r")
	destination := c.Query("u")

	if !h.signer.Verify(tracking.PurposeClick, campaignID, recipientID, destination, c.Query("s")) {
		c.Status(http.StatusForbidden)
		return
	}
	if !isSafeRedirect(destination) {
		c.Status(http.StatusBadRequest)
		return
	}

	if err := h.tracker.MarkRecipientClicked(c.Request.Context(), campaignID, recipientID); err != nil {
		h.logger.Warn("Failed to record click",
			slog.String("campaign_id", campaignID),
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.RecordTrackingEvent("click")
	}

	c.Redirect(http.StatusFound, destination)
}

// Unsubscribe handles GET /t/unsubscribe.
func (h *TrackingHandler) Unsubscribe(c *gin.Context) {
	campaignID := c.Query("c")
	recipientID := c.Query("r")

	if !h.signer.Verify(tracking.PurposeUnsubscribe, campaignID, recipientID, "", c.Query("s")) {
		c.Status(http.StatusForbidden)
		return
	}

	if err := h.tracker.UnsubscribeRecipient(c.Request.Context(), campaignID, recipientID); err != nil {
		h.logger.Error("Failed to unsubscribe recipient",
			slog.String("campaign_id", campaignID),
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
		c.String(http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	metrics.RecordTrackingEvent("unsubscribe")
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<html><body><p>You have been unsubscribed.</p></body></html>"))
}

func isSafeRedirect(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
