package handler

import (
	"errors"
	"net/http"

	"github.com/aspect-build/listbridge/internal/credentials"
	"github.com/gin-gonic/gin"
)

// HandleCredentialStatus handles GET /v1/credentials/status. It reports which
// source each credential chain would use without revealing any value and
// without contacting the provider.
func HandleCredentialStatus(apps credentials.ApplicationTokens) gin.HandlerFunc {
	userChain := credentials.UserChain()
	catalogChain := credentials.CatalogChain(apps)

	return func(c *gin.Context) {
		b, ok := credentials.FromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials not resolved"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"account_id":      b.AccountID,
			"oauth_connected": b.OAuthConnected,
			"manual_keys":     b.HasManualKeys(),
			"user":            sourceOrNil(userChain.Plan(b)),
			"catalog":         sourceOrNil(catalogChain.Plan(b)),
		})
	}
}

type chainCheck struct {
	Source *string `json:"source"`
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
}

// HandleVerifyCredentials handles POST /v1/credentials/verify. Unlike the
// status endpoint it acquires a token through each chain, so a broken
// application key pair shows up here. Token values are never returned.
func HandleVerifyCredentials(apps credentials.ApplicationTokens) gin.HandlerFunc {
	chains := []struct {
		name  string
		chain credentials.Chain
	}{
		{"user", credentials.UserChain()},
		{"catalog", credentials.CatalogChain(apps)},
	}

	return func(c *gin.Context) {
		b, ok := credentials.FromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials not resolved"})
			return
		}

		out := gin.H{"account_id": b.AccountID}
		for _, ch := range chains {
			cred, err := ch.chain.Resolve(c.Request.Context(), b)
			if err != nil {
				check := chainCheck{Error: "no usable ebay credential"}
				if !errors.Is(err, credentials.ErrNoCredential) {
					check.Error = "credential check failed"
				}
				out[ch.name] = check
				continue
			}
			src := string(cred.Source)
			out[ch.name] = chainCheck{Source: &src, OK: true}
		}
		c.JSON(http.StatusOK, out)
	}
}

func sourceOrNil(s credentials.Source) any {
	if s == "" {
		return nil
	}
	return string(s)
}
