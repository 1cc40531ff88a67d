package models

import "time"

const ProviderHubSpot = "hubspot"

// Connection is the stored OAuth grant of one organization.
type Connection struct {
	OrgID           string
	Provider        string
	HubID           int64
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	UpdatedAt       time.Time
}

// ExpiresWithin reports whether the access token expires within d of now.
func (c *Connection) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !c.AccessExpiresAt.After(now.Add(d))
}
