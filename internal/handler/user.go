package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
	"channel-watch-server/internal/session"
)

type UserHandler struct {
	Sessions *session.Manager
}

// Me returns the remote account behind the caller's session.
func (h *UserHandler) Me(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)

	var user model.User
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		user, err = rc.Self(c.Request.Context())
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
