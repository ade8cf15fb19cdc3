package transfer

import "github.com/maheshrc27/postflow/internal/models"

type AssetInput struct {
	// ID refers to an existing asset of the entry on update; zero adds a new one.
	ID           int64   `json:"id,omitempty"`
	URL          string  `json:"url"`
	MimeType     string  `json:"mime_type"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

type EntryCreation struct {
	AccountID        int64                   `json:"account_id"`
	TargetTime       string                  `json:"target_time"`
	Caption          string                  `json:"caption"`
	PlatformFlags    models.PlatformFlags    `json:"platform_flags"`
	DistributionMode models.DistributionMode `json:"distribution_mode"`
	Media            []AssetInput            `json:"media"`
}

// EntryUpdate leaves a field untouched when it is nil.
type EntryUpdate struct {
	AccountID        *int64                   `json:"account_id,omitempty"`
	TargetTime       *string                  `json:"target_time,omitempty"`
	Caption          *string                  `json:"caption,omitempty"`
	PlatformFlags    *models.PlatformFlags    `json:"platform_flags,omitempty"`
	DistributionMode *models.DistributionMode `json:"distribution_mode,omitempty"`
	Media            []AssetInput             `json:"media,omitempty"`
}

type EntryResponse struct {
	*models.SchedulingEntry
	JobState string `json:"job_state,omitempty"`
}
