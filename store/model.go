package store

import "time"

// Service tags the external resource family a credential authorizes.
type Service string

const (
	ServiceMail     Service = "mail"
	ServiceCalendar Service = "calendar"
	ServiceFiles    Service = "files"
	ServiceChat     Service = "chat"
)

// Valid reports whether s is one of the known service tags.
func (s Service) Valid() bool {
	switch s {
	case ServiceMail, ServiceCalendar, ServiceFiles, ServiceChat:
		return true
	}
	return false
}

// Credential is the stored token record for one user and one external
// service. AccessToken and RefreshToken hold ciphertext; plaintext never
// reaches the persistence layer.
type Credential struct {
	UserID        string    `bson:"user_id" json:"user_id"`
	Service       Service   `bson:"service" json:"service"`
	AccessToken   string    `bson:"access_token" json:"-"`
	RefreshToken  string    `bson:"refresh_token,omitempty" json:"-"`
	Scopes        []string  `bson:"scopes" json:"scopes"`
	ExpiresAt     time.Time `bson:"expires_at" json:"expires_at"`
	GrantedAt     time.Time `bson:"granted_at" json:"granted_at"`
	LastRefreshed time.Time `bson:"last_refreshed,omitempty" json:"last_refreshed,omitempty"`
}

// Expired reports whether the access token is past (or within skew of) its
// expiry and must not be used.
func (c *Credential) Expired(skew time.Duration) bool {
	return !time.Now().Add(skew).Before(c.ExpiresAt)
}
