package tokens

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quillvault/quillvault/internal/config"
	"github.com/quillvault/quillvault/internal/models"
	"github.com/quillvault/quillvault/internal/users"
)

// RegisterTokenRoute exposes the HMAC token exchange: a caller whose
// identity the auth middleware already verified trades it for a locally
// signed access token, so clients stop re-presenting the provider token
// on every request. The identity is upserted on the way through when a
// user store is available.
func RegisterTokenRoute(r gin.IRouter, cfg *config.Config, userSvc *users.Service) {
	r.POST("/token", func(c *gin.Context) {
		v, _ := c.Get("claims")
		cm, _ := v.(map[string]interface{})
		sub, _ := cm["sub"].(string)
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		u := &models.User{Sub: sub}
		u.Email, _ = cm["email"].(string)
		u.Name, _ = cm["name"].(string)
		if userSvc != nil {
			if stored, err := userSvc.UpsertFromClaims(c.Request.Context(), cm); err == nil && stored != nil {
				u = stored
			}
		}
		ttl := cfg.JWT.AccessTokenTTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		tok, err := GenerateAccessToken(cfg, u, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accessToken": tok,
			"tokenType":   "Bearer",
			"expiresIn":   int(ttl.Seconds()),
		})
	})
}
