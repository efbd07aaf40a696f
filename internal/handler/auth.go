package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/auth"
	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/lifecycle"
	"channel-watch-server/internal/session"
)

type AuthHandler struct {
	Sessions    *session.Manager
	Lifecycle   *lifecycle.Manager
	TokenConfig auth.TokenConfig
}

type sendCodeBody struct {
	Phone string `json:"phone" binding:"required"`
}

type signInBody struct {
	SessionKey string `json:"session_key" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Password   string `json:"password"`
}

type sessionKeyBody struct {
	SessionKey string `json:"session_key" binding:"required"`
}

func (h *AuthHandler) SendCode(c *gin.Context) {
	var body sendCodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	key, err := h.Sessions.Create(c.Request.Context(), body.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_key": key, "message": "Verification code sent"})
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var body signInBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	var err error
	if body.Password != "" {
		_, err = h.Sessions.SubmitCodeAndPassword(ctx, body.SessionKey, body.Code, body.Password)
	} else {
		_, err = h.Sessions.SubmitCode(ctx, body.SessionKey, body.Code)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	sess, ok := h.Sessions.Session(body.SessionKey)
	if !ok {
		respondError(c, errs.ErrUnknownSession)
		return
	}
	token, err := auth.CreateToken(sess.Key, sess.ExpiresAt, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_key":  sess.Key,
		"message":      "Signed in",
		"access_token": token,
		"expires_at":   sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var body sessionKeyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !h.Lifecycle.Logout(c.Request.Context(), body.SessionKey) {
		respondError(c, errs.ErrUnknownSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandler) Status(c *gin.Context) {
	key := c.Query("session_key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_key is required"})
		return
	}

	resp := gin.H{"session_key": key, "is_authorized": h.Sessions.IsAuthorized(key)}
	if sess, ok := h.Sessions.Session(key); ok {
		resp["state"] = sess.State
		resp["expires_at"] = sess.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
