// Package session issues server-side login sessions and carries the
// authenticated identity through a gin request.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CookieName is the name of the session cookie.
const CookieName = "listbridge_sid"

const (
	sessionKey  = "listbridge.session"
	identityKey = "listbridge.identity"
)

// Cookie describes how the session id is carried.
type Cookie struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func (ck Cookie) name() string {
	if ck.Name == "" {
		return CookieName
	}
	return ck.Name
}

// Read returns the session id sent by the client, or "".
func (ck Cookie) Read(c *gin.Context) string {
	v, err := c.Cookie(ck.name())
	if err != nil {
		return ""
	}
	return v
}

// Write sets the session cookie.
func (ck Cookie) Write(c *gin.Context, id string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ck.name(), id, int(ck.TTL/time.Second), "/", "", ck.Secure, true)
}

// Clear expires the session cookie.
func (ck Cookie) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ck.name(), "", -1, "/", "", ck.Secure, true)
}

// Creator persists sessions.
type Creator interface {
	CreateSession(ctx context.Context, sess *db.Session) error
}

// Start creates a session for user valid for ttl.
func Start(ctx context.Context, store Creator, user *db.User, ttl time.Duration, now time.Time) (*db.Session, error) {
	sess := &db.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Role:      user.Role,
		AccountID: user.AccountID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// Set attaches sess to the request.
func Set(c *gin.Context, sess *db.Session) {
	c.Set(sessionKey, sess)
}

// Current returns the session of the request, or nil.
func Current(c *gin.Context) *db.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*db.Session)
	return sess
}

// SetIdentity attaches the freshly looked-up identity to the request.
func SetIdentity(c *gin.Context, id *account.Identity) {
	c.Set(identityKey, id)
}

// Identity returns the identity resolved for the request, or nil.
func Identity(c *gin.Context) *account.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*account.Identity)
	return id
}
