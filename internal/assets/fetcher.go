package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
)

// maxAssetBytes bounds a single downloaded asset.
const maxAssetBytes = 10 << 20

// Fetcher resolves a campaign's asset records and downloads their
// bytes. Object storage is consumed as fetch-bytes-by-URL only.
type Fetcher struct {
	db     *sqlx.DB
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher over the CRM asset tables.
func NewFetcher(db *sqlx.DB, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		db:     db,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type assetRow struct {
	Name        string `db:"name"`
	URL         string `db:"url"`
	ContentType string `db:"content_type"`
	Kind        string `db:"kind"` // image or attachment
	Width       int    `db:"width"`
	Align       string `db:"align"`
	Inline      bool   `db:"inline"`
}

// PrepareBundle loads the campaign's asset records and fetches the
// bytes of everything that will travel inside the message. Called once
// per job run; the result is shared by every work item of that run.
func (f *Fetcher) PrepareBundle(ctx context.Context, orgID, campaignID string) (*Bundle, error) {
	query := `
		SELECT name, url, content_type, kind, width, align, inline
		FROM campaign_assets
		WHERE org_id = $1 AND campaign_id = $2
		ORDER BY name
	`

	var rows []assetRow
	if err := f.db.SelectContext(ctx, &rows, query, orgID, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list campaign assets: %w", err)
	}

	bundle := &Bundle{CampaignID: campaignID}
	for _, row := range rows {
		switch row.Kind {
		case "image":
			asset := InlineAsset{
				Name:        row.Name,
				URL:         row.URL,
				ContentType: row.ContentType,
				Width:       row.Width,
				Align:       row.Align,
				Inline:      row.Inline,
			}
			if row.Inline {
				data, err := f.fetch(ctx, row.URL)
				if err != nil {
					// A missing image degrades to a link, not a failed run.
					f.logger.Warn("Failed to fetch inline asset, falling back to link",
						slog.String("campaign_id", campaignID),
						slog.String("asset", row.Name),
						slog.String("error", err.Error()),
					)
					asset.Inline = false
				} else {
					asset.Data = data
				}
			}
			bundle.InlineAssets = append(bundle.InlineAssets, asset)

		case "attachment":
			data, err := f.fetch(ctx, row.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch attachment %s: %w", row.Name, err)
			}
			bundle.Attachments = append(bundle.Attachments, Attachment{
				Filename:    row.Name,
				URL:         row.URL,
				ContentType: row.ContentType,
				Data:        data,
			})
		}
	}

	return bundle, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching asset", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset body: %w", err)
	}

	return data, nil
}
