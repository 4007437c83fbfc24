package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/clientflow/config"
)

const testSecret = "test-jwt-secret"

func newProtectedRouter(cfg *config.Config, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handlers := []gin.HandlerFunc{JwtAuthMiddleware(cfg)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetString("userID"),
			"tenant_id": c.GetString("tenantID"),
			"role":      c.GetString("role"),
		})
	})

	router.GET("/protected", handlers...)
	return router
}

func TestJwtAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: testSecret}

	validToken, err := GenerateToken("user-1", "tenant-1", "owner", testSecret, time.Hour)
	require.NoError(t, err)

	expiredToken, err := GenerateToken("user-1", "tenant-1", "owner", testSecret, -time.Hour)
	require.NoError(t, err)

	wrongSecretToken, err := GenerateToken("user-1", "tenant-1", "owner", "other-secret", time.Hour)
	require.NoError(t, err)

	noTenantToken, err := GenerateToken("user-1", "", "owner", testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{"Valid Token", "Bearer " + validToken, http.StatusOK},
		{"Missing Header", "", http.StatusUnauthorized},
		{"Malformed Header", "NotBearer " + validToken, http.StatusUnauthorized},
		{"Expired Token", "Bearer " + expiredToken, http.StatusUnauthorized},
		{"Wrong Secret", "Bearer " + wrongSecretToken, http.StatusUnauthorized},
		{"Missing Tenant", "Bearer " + noTenantToken, http.StatusUnauthorized},
		{"Garbage Token", "Bearer not.a.token", http.StatusUnauthorized},
	}

	router := newProtectedRouter(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestJwtAuthMiddlewareSetsIdentity(t *testing.T) {
	cfg := &config.Config{JWTSecret: testSecret}
	router := newProtectedRouter(cfg)

	token, err := GenerateToken("user-42", "tenant-42", "admin", testSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-42")
	assert.Contains(t, w.Body.String(), "tenant-42")
	assert.Contains(t, w.Body.String(), "admin")
}

func TestRequireRole(t *testing.T) {
	cfg := &config.Config{JWTSecret: testSecret}
	router := newProtectedRouter(cfg, "owner", "admin")

	ownerToken, err := GenerateToken("user-1", "tenant-1", "owner", testSecret, time.Hour)
	require.NoError(t, err)

	memberToken, err := GenerateToken("user-2", "tenant-1", "member", testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("Allowed Role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+ownerToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Forbidden Role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+memberToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
