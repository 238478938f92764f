package recipients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
	"github.com/jmoiron/sqlx"
)

// Rule is a campaign targeting rule. Rules are resolved exactly once
// per send, at snapshot time; afterwards the persisted recipient rows
// are authoritative.
type Rule struct {
	Type      string   `json:"type"` // all, segment, tag, manual
	SegmentID string   `json:"segment_id,omitempty"`
	Tag       string   `json:"tag,omitempty"`
	Emails    []string `json:"emails,omitempty"`
}

// Resolver turns targeting rules into concrete addresses. It reads the
// CRM customer and segment tables and never writes to them.
type Resolver struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewResolver creates a resolver over the CRM store.
func NewResolver(db *sqlx.DB, logger *slog.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

type customerRow struct {
	CustomerID string `db:"customer_id"`
	Email      string `db:"email"`
}

// SelectRecipients resolves a targeting rule to its target addresses.
// Unsubscribed customers and customers without an address are excluded.
func (r *Resolver) SelectRecipients(ctx context.Context, orgID, rawRule string) ([]domain.Target, error) {
	var rule Rule
	if err := json.Unmarshal([]byte(rawRule), &rule); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTargetingRule, err)
	}

	switch rule.Type {
	case "all":
		return r.selectCustomers(ctx, `
			SELECT customer_id, email FROM customers
			WHERE org_id = $1 AND subscribed AND email <> ''
			ORDER BY customer_id`, orgID)

	case "segment":
		if rule.SegmentID == "" {
			return nil, fmt.Errorf("%w: segment rule without segment_id", domain.ErrInvalidTargetingRule)
		}
		return r.selectCustomers(ctx, `
			SELECT c.customer_id, c.email
			FROM customers c
			JOIN segment_members sm ON sm.customer_id = c.customer_id
			WHERE c.org_id = $1 AND sm.segment_id = $2 AND c.subscribed AND c.email <> ''
			ORDER BY c.customer_id`, orgID, rule.SegmentID)

	case "tag":
		if rule.Tag == "" {
			return nil, fmt.Errorf("%w: tag rule without tag", domain.ErrInvalidTargetingRule)
		}
		return r.selectCustomers(ctx, `
			SELECT c.customer_id, c.email
			FROM customers c
			JOIN customer_tags ct ON ct.customer_id = c.customer_id
			WHERE c.org_id = $1 AND ct.tag = $2 AND c.subscribed AND c.email <> ''
			ORDER BY c.customer_id`, orgID, rule.Tag)

	case "manual":
		return manualTargets(rule.Emails), nil

	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidTargetingRule, rule.Type)
	}
}

func (r *Resolver) selectCustomers(ctx context.Context, query string, args ...interface{}) ([]domain.Target, error) {
	var rows []customerRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select recipients: %w", err)
	}

	targets := make([]domain.Target, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		email := strings.ToLower(strings.TrimSpace(row.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		id := row.CustomerID
		targets = append(targets, domain.Target{
			CustomerID: &id,
			Email:      email,
			Source:     domain.RecipientSourceCustomer,
		})
	}
	return targets, nil
}

func manualTargets(emails []string) []domain.Target {
	targets := make([]domain.Target, 0, len(emails))
	seen := make(map[string]bool, len(emails))
	for _, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" || !strings.Contains(email, "@") || seen[email] {
			continue
		}
		seen[email] = true
		targets = append(targets, domain.Target{
			Email:  email,
			Source: domain.RecipientSourceManual,
		})
	}
	return targets
}
