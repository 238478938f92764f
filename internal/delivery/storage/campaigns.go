package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
)

const campaignColumns = `
	campaign_id, org_id, name, subject, body_html, targeting_rule,
	status, total_recipients, sent_count, sent_at, created_at, updated_at`

// GetCampaign retrieves a campaign by id.
func (s *Storage) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE campaign_id = $1`

	var c domain.Campaign
	if err := s.db.GetContext(ctx, &c, query, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &c, nil
}

// SetCampaignStatus updates the campaign's lifecycle status.
func (s *Storage) SetCampaignStatus(ctx context.Context, campaignID, status string) error {
	query := `UPDATE campaigns SET status = $2, updated_at = NOW() WHERE campaign_id = $1`
	if _, err := s.db.ExecContext(ctx, query, campaignID, status); err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	return nil
}

// SetCampaignSending marks the campaign sending and reconciles its
// recorded total with the true persisted recipient count.
func (s *Storage) SetCampaignSending(ctx context.Context, campaignID string, total int) error {
	query := `
		UPDATE campaigns
		SET status = $2, total_recipients = $3, updated_at = NOW()
		WHERE campaign_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, campaignID, domain.CampaignStatusSending, total); err != nil {
		return fmt.Errorf("failed to mark campaign sending: %w", err)
	}
	return nil
}

// IncrementCampaignSent bumps the eventually-consistent progress
// counter. The finalizer recomputes the authoritative value from
// recipient rows; this exists only for UI progress display.
func (s *Storage) IncrementCampaignSent(ctx context.Context, campaignID string, n int) error {
	if n <= 0 {
		return nil
	}
	query := `UPDATE campaigns SET sent_count = sent_count + $2, updated_at = NOW() WHERE campaign_id = $1`
	if _, err := s.db.ExecContext(ctx, query, campaignID, n); err != nil {
		return fmt.Errorf("failed to increment campaign sent count: %w", err)
	}
	return nil
}

// FinalizeCampaign writes the terminal status and authoritative totals.
func (s *Storage) FinalizeCampaign(ctx context.Context, campaignID, status string, total, sent int, sentAt time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $2,
		    total_recipients = $3,
		    sent_count = $4,
		    sent_at = $5,
		    updated_at = NOW()
		WHERE campaign_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, campaignID, status, total, sent, sentAt); err != nil {
		return fmt.Errorf("failed to finalize campaign: %w", err)
	}

	s.logger.Info("Campaign finalized",
		slog.String("campaign_id", campaignID),
		slog.String("status", status),
		slog.Int("total", total),
		slog.Int("sent", sent),
	)

	return nil
}
