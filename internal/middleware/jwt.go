package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aksara-lms/proctor-backend/internal/auth"
	"github.com/aksara-lms/proctor-backend/internal/response"
	"github.com/aksara-lms/proctor-backend/internal/session"
)

const (
	// ContextKeyClaims is the Gin context key for attempt JWT claims.
	ContextKeyClaims = "claims"

	// HeaderDeviceHash carries the browser's device fingerprint.
	HeaderDeviceHash = "X-Device-Hash"
)

// RequireAttemptJWT validates the attempt token from the Authorization
// header AND revalidates the underlying session record on every request:
// the token alone is not enough once the session expired or moved to a
// different device.
func RequireAttemptJWT(authService *auth.Service, sessions *session.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != auth.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}
		if !checkSession(c, sessions, claims) {
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireInvigilatorJWT validates the read-only invigilator token. No
// session record backs it; the scope lives entirely in the claims.
func RequireInvigilatorJWT(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != auth.TokenTypeInvigilator {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireAttemptWSAuth validates the attempt token from the query param
// ?token=... Used for WebSocket upgrade requests, where the browser cannot
// set an Authorization header. The device hash rides a query param for the
// same reason.
func RequireAttemptWSAuth(authService *auth.Service, sessions *session.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != auth.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}
		if !checkSession(c, sessions, claims) {
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// checkSession binds the request to the live session record. The device
// hash presented by the client must match the one the session was issued
// to; each failure mode maps to its own error code so the shell can route
// the student to the right remediation screen.
func checkSession(c *gin.Context, sessions *session.Validator, claims *auth.Claims) bool {
	examID, err := uuid.Parse(claims.ExamID)
	if err != nil {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return false
	}

	deviceHash := c.GetHeader(HeaderDeviceHash)
	if deviceHash == "" {
		deviceHash = c.Query("device_hash")
	}

	result := sessions.Validate(c.Request.Context(), examID, claims.SessionToken, deviceHash)
	if result.Valid {
		return true
	}

	switch result.Status {
	case session.StatusExpired:
		response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionExpired)
	case session.StatusDeviceMismatch:
		response.AbortFail(c, http.StatusUnauthorized, response.ErrDeviceMismatch)
	case session.StatusNotFound:
		response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionNotFound)
	default:
		response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalid)
	}
	return false
}

// GetClaims retrieves the attempt claims from the Gin context.
func GetClaims(c *gin.Context) *auth.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractAndValidateClaims(c *gin.Context, authService *auth.Service) (*auth.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = parts[1]
		}
	}

	if tokenStr == "" {
		return nil, fmt.Errorf("authorization header required")
	}
	return authService.ValidateToken(tokenStr)
}
