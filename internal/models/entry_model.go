package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type DistributionMode string

const (
	// SinglePost publishes the first asset every run.
	SinglePost DistributionMode = "single_post"
	// RandomizeEachRun picks any asset uniformly on every run.
	RandomizeEachRun DistributionMode = "randomize_each_run"
	// RotateIndividually picks among the least used assets and bumps their counter.
	RotateIndividually DistributionMode = "rotate_individually"
)

func (m DistributionMode) Valid() bool {
	switch m {
	case SinglePost, RandomizeEachRun, RotateIndividually:
		return true
	}
	return false
}

const (
	EntryStatusPending  = "pending"
	EntryStatusExecuted = "executed"
	EntryStatusFailed   = "failed"
)

// PlatformFlags selects the post types the publishing endpoint should produce.
// Stored as a JSONB column.
type PlatformFlags struct {
	Story      bool `json:"story"`
	Reel       bool `json:"reel"`
	SinglePost bool `json:"single_post"`
	Daily      bool `json:"daily"`
}

func (f PlatformFlags) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *PlatformFlags) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = PlatformFlags{}
		return nil
	case []byte:
		*f = PlatformFlags{}
		return json.Unmarshal(v, f)
	case string:
		*f = PlatformFlags{}
		return json.Unmarshal([]byte(v), f)
	}
	return errors.New("platform_flags: unsupported column type")
}

type SchedulingEntry struct {
	ID               int64            `db:"id" json:"id"`
	OwnerID          int64            `db:"owner_id" json:"owner_id"`
	AccountID        int64            `db:"account_id" json:"account_id"`
	TargetTime       time.Time        `db:"target_time" json:"target_time"`
	Caption          string           `db:"caption" json:"caption"`
	PlatformFlags    PlatformFlags    `db:"platform_flags" json:"platform_flags"`
	DistributionMode DistributionMode `db:"distribution_mode" json:"distribution_mode"`
	Status           string           `db:"status" json:"status"` // pending, executed, failed
	Attempts         int              `db:"attempts" json:"attempts"`
	LastError        string           `db:"last_error" json:"last_error,omitempty"`
	ExecutedAt       *time.Time       `db:"executed_at" json:"executed_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`

	Media []*MediaAsset `db:"-" json:"media,omitempty"`
}

func (e *SchedulingEntry) Terminal() bool {
	return e.Status == EntryStatusExecuted || e.Status == EntryStatusFailed
}

type MediaAsset struct {
	ID           int64     `db:"id" json:"id"`
	EntryID      int64     `db:"entry_id" json:"entry_id"`
	URL          string    `db:"url" json:"url"`
	MimeType     string    `db:"mime_type" json:"mime_type"`
	ThumbnailURL *string   `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	UsageCounter int64     `db:"usage_counter" json:"usage_counter"`
	Version      int64     `db:"version" json:"-"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
