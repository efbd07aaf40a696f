package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/remote"
)

// respondError maps a core error onto an HTTP status and a JSON body.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, errs.ErrUnknownSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
	case errors.Is(err, errs.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
	case errors.Is(err, errs.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session is not authorized"})
	case errors.Is(err, errs.ErrSecondFactorRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "Password required", "password_required": true})
	case errors.Is(err, errs.ErrAlreadyAuthorized):
		c.JSON(http.StatusConflict, gin.H{"error": "Session already authorized"})
	case errors.Is(err, errs.ErrInvalidPhone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
	case errors.Is(err, errs.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification code"})
	case errors.Is(err, errs.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid password"})
	case errors.Is(err, errs.ErrRateLimited):
		if wait := remote.RetryAfter(err); wait > 0 {
			c.Header("Retry-After", middleware.RetryAfterSeconds(wait))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrChannelResolution):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error: " + err.Error()})
	}
}
