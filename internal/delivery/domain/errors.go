package domain

import "errors"

var (
	// ErrCampaignNotFound is returned when a campaign cannot be found
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCampaignAlreadySent is returned when enqueueing a campaign that already finished
	ErrCampaignAlreadySent = errors.New("campaign already sent")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrNoRecipients is returned when the targeting rule resolves to zero addresses
	ErrNoRecipients = errors.New("targeting rule resolved to zero recipients")

	// ErrInvalidTargetingRule is returned when the targeting rule cannot be parsed
	ErrInvalidTargetingRule = errors.New("invalid targeting rule")

	// ErrTransportNotConfigured is returned when no mail transport is available
	ErrTransportNotConfigured = errors.New("mail transport not configured")

	// ErrItemAlreadyClaimed is returned when a work item claim loses the race
	ErrItemAlreadyClaimed = errors.New("work item already claimed")

	// ErrJobLeaseLost is returned when a job update finds the caller no
	// longer holds the lease, usually because it expired and another
	// worker reclaimed the job
	ErrJobLeaseLost = errors.New("job lease lost")
)

// TruncateError bounds an error message before it is stored on a row.
func TruncateError(msg string, limit int) string {
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}
