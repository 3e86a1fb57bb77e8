package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/quillvault/quillvault/internal/config"
)

func tokenRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.JWT.Secret = secret
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-Sub"); sub != "" {
			c.Set("claims", map[string]interface{}{"sub": sub, "name": "Test User", "email": "test@example.com"})
		}
	})
	RegisterTokenRoute(r, cfg, nil)
	return r
}

func TestTokenExchange(t *testing.T) {
	secret := "test-secret-32-bytes-should-be-long-enough"
	r := tokenRouter(secret)

	req := httptest.NewRequest(http.MethodPost, "/token", nil)
	req.Header.Set("X-Test-Sub", "user-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn <= 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// the issued token round-trips through the HMAC verifier
	ver := NewHMACVerifier(secret)
	tok, err := ver.Verify(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	var claims map[string]interface{}
	if err := tok.Claims(&claims); err != nil {
		t.Fatalf("Claims error: %v", err)
	}
	if claims["sub"] != "user-123" {
		t.Fatalf("unexpected sub claim: %v", claims["sub"])
	}
}

func TestTokenExchange_RequiresIdentity(t *testing.T) {
	r := tokenRouter("test-secret-32-bytes-should-be-long-enough")

	req := httptest.NewRequest(http.MethodPost, "/token", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
