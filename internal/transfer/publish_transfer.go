package transfer

import "github.com/maheshrc27/postflow/internal/models"

type PublishAccount struct {
	ID          int64  `json:"id"`
	Platform    string `json:"platform"`
	AccountID   string `json:"account_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

type PublishMedia struct {
	URL          string  `json:"url"`
	MimeType     string  `json:"mime_type"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

// PublishPayload is the body POSTed to the publishing endpoint for one attempt.
type PublishPayload struct {
	DispatchID       string                  `json:"dispatch_id"`
	EntryID          int64                   `json:"entry_id"`
	OwnerID          int64                   `json:"owner_id"`
	Attempt          int                     `json:"attempt"`
	Account          PublishAccount          `json:"account"`
	Caption          string                  `json:"caption"`
	Media            PublishMedia            `json:"media"`
	PlatformFlags    models.PlatformFlags    `json:"platform_flags"`
	DistributionMode models.DistributionMode `json:"distribution_mode"`
	TokenExpired     bool                    `json:"token_expired"`
}
