package domain

import "time"

// Credential represents a platform credential (a cookies file) usable by
// credentialed fetch jobs. Credentials are created by operator action and
// disabled automatically when their rolling failure count breaches the
// configured threshold, or manually by a ban. The core never deletes them.
type Credential struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Label          string     `gorm:"type:text;not null" json:"label"`
	CookiesPath    string     `gorm:"type:text;not null" json:"cookies_path"`
	Active         bool       `gorm:"default:true" json:"active"`
	FailureCount   int        `gorm:"default:0" json:"failure_count"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
	UsageCount     int64      `gorm:"default:0" json:"usage_count"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	DisabledReason string     `gorm:"type:text" json:"disabled_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string {
	return "credentials"
}
