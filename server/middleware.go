package server

import (
	"net/http"
	"strings"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	errs "github.com/techagentng/clarkmarket/errors"
	"github.com/techagentng/clarkmarket/models"
	"github.com/techagentng/clarkmarket/server/response"
	"github.com/techagentng/clarkmarket/services"
	"go.uber.org/zap"
)

// Authorize resolves the Firebase ID token of the request into a campus
// identity and stores it on the request context.
func (s *Server) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := getTokenFromHeader(c)
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.New("Unauthorized", http.StatusUnauthorized))
			return
		}

		ctx := services.WithIDToken(c.Request.Context(), accessToken)
		identity, err := s.AuthProvider.CurrentIdentity(ctx)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrOutsideCampus):
				respondAndAbort(c, "campus accounts only", http.StatusForbidden, nil, errs.New(err.Error(), http.StatusForbidden))
			case errors.Is(err, services.ErrEmailNotVerified):
				respondAndAbort(c, "verify your email first", http.StatusUnauthorized, nil, errs.New(err.Error(), http.StatusUnauthorized))
			default:
				s.logger().Debug("token rejected", zap.Error(err))
				respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.New("Unauthorized", http.StatusUnauthorized))
			}
			return
		}
		if identity == nil {
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.New("Unauthorized", http.StatusUnauthorized))
			return
		}

		c.Request = c.Request.WithContext(services.WithIdentity(ctx, identity))
		c.Set("identity", identity)
		c.Set("userID", identity.UserID)
		c.Next()
	}
}

func limitSocketRate(store ratelimit.Store) gin.HandlerFunc {
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errs.ErrorHandler,
		KeyFunc:      keyFunc,
	})
}

// keyFunc limits per user, falling back to the client address.
func keyFunc(c *gin.Context) string {
	if userID := c.GetString("userID"); userID != "" {
		return userID
	}
	return c.ClientIP()
}

func currentIdentity(c *gin.Context) *models.Identity {
	v, ok := c.Get("identity")
	if !ok {
		return nil
	}
	identity, _ := v.(*models.Identity)
	return identity
}

// respondAndAbort calls response.JSON and aborts the Context
func respondAndAbort(c *gin.Context, message string, status int, data interface{}, e *errs.Error) {
	response.JSON(c, message, status, data, e)
	c.Abort()
}

// getTokenFromHeader returns the token string in the authorization header
func getTokenFromHeader(c *gin.Context) string {
	authHeader := c.Request.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}
