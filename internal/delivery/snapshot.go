package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
)

// ensureSnapshot freezes the campaign's targeting rule into recipient
// rows, exactly once per campaign. Later steps operate on the fixed
// snapshot keyed by recipient id, never on a re-evaluated rule; that
// single decision is what makes the rest of the pipeline idempotent.
//
// A resumed run that finds fewer rows than the campaign's recorded
// total is treated as a partial-crash symptom: the rule is re-resolved
// and only the missing rows are inserted. The campaign's recorded
// total is always reconciled to the true persisted count.
func (e *Engine) ensureSnapshot(ctx context.Context, job *domain.Job, campaign *domain.Campaign) error {
	existing, err := e.store.CountRecipients(ctx, campaign.ID)
	if err != nil {
		return err
	}

	switch {
	case existing == 0:
		targets, err := e.source.SelectRecipients(ctx, campaign.OrgID, campaign.TargetingRule)
		if err != nil {
			return fmt.Errorf("failed to resolve targeting rule: %w", err)
		}
		if len(targets) == 0 {
			return domain.ErrNoRecipients
		}
		if _, err := e.store.InsertRecipients(ctx, campaign.ID, targets); err != nil {
			return err
		}

	case existing < campaign.TotalRecipients:
		// Partial snapshot from a crashed run: insert-if-missing repairs
		// it without duplicating rows that already exist.
		e.logger.Warn("Partial recipient snapshot detected, repairing",
			slog.String("campaign_id", campaign.ID),
			slog.Int("existing", existing),
			slog.Int("recorded_total", campaign.TotalRecipients),
		)
		targets, err := e.source.SelectRecipients(ctx, campaign.OrgID, campaign.TargetingRule)
		if err != nil {
			return fmt.Errorf("failed to re-resolve targeting rule: %w", err)
		}
		if _, err := e.store.InsertRecipients(ctx, campaign.ID, targets); err != nil {
			return err
		}
	}

	total, err := e.store.CountRecipients(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if total == 0 {
		return domain.ErrNoRecipients
	}

	if err := e.store.SetCampaignSending(ctx, campaign.ID, total); err != nil {
		return err
	}
	campaign.Status = domain.CampaignStatusSending
	campaign.TotalRecipients = total

	return nil
}
