package db

import "time"

// User is a row of the users table. The owner of an account is the row whose
// ID equals AccountID; only the owner carries eBay credentials.
//
// Credential fields hold vault tokens, never plaintext. "" means NULL.
type User struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`

	EbayToken        string `json:"-"`
	EbayClientID     string `json:"-"`
	EbayClientSecret string `json:"-"`

	OAuthAccessToken  string     `json:"-"`
	OAuthRefreshToken string     `json:"-"`
	OAuthTokenExpiry  *time.Time `json:"-"`
	OAuthUsername     string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOwner reports whether u is the credential-holding row of its account.
func (u *User) IsOwner() bool {
	return u.ID == u.AccountID
}

// Session is a server-side session keyed by an opaque id.
type Session struct {
	ID         string
	UserID     string
	Role       string
	AccountID  string
	OAuthState string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ManualCredentialsUpdate is a partial update of the owner's manual key
// triplet. A nil field is left unchanged; a pointer to "" clears the column.
type ManualCredentialsUpdate struct {
	EbayToken        *string
	EbayClientID     *string
	EbayClientSecret *string
}

// IsEmpty reports whether the update touches no column.
func (u ManualCredentialsUpdate) IsEmpty() bool {
	return u.EbayToken == nil && u.EbayClientID == nil && u.EbayClientSecret == nil
}
