package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
	"channel-watch-server/internal/session"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
	defaultCommentLimit = 100
	maxCommentLimit     = 500
	defaultSearchLimit  = 10
	maxSearchLimit      = 100
)

type ChannelHandler struct {
	Sessions *session.Manager
}

func (h *ChannelHandler) Get(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	id := c.Param("id")

	var ch model.Channel
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		ch, err = rc.ResolveChannel(c.Request.Context(), id)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Messages returns the newest messages of a channel. offset_id pages
// towards older messages.
func (h *ChannelHandler) Messages(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	id := c.Param("id")

	limit, ok := intQuery(c, "limit", defaultMessageLimit)
	if !ok || limit < 1 || limit > maxMessageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	offsetID, ok := intQuery(c, "offset_id", 0)
	if !ok || offsetID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset_id must not be negative"})
		return
	}

	var msgs []model.Message
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		msgs, err = rc.Messages(c.Request.Context(), id, limit, offsetID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Search lists the channels whose title contains q.
func (h *ChannelHandler) Search(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, ok := intQuery(c, "limit", defaultSearchLimit)
	if !ok || limit < 1 || limit > maxSearchLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	var found []model.Channel
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		found, err = rc.SearchChannels(c.Request.Context(), query, limit)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if found == nil {
		found = []model.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": found})
}

func (h *ChannelHandler) Message(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)

	var msg model.Message
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		msg, err = rc.Message(c.Request.Context(), c.Param("id"), c.Param("message_id"))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Comments returns the newest replies to a message.
func (h *ChannelHandler) Comments(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	limit, ok := intQuery(c, "limit", defaultCommentLimit)
	if !ok || limit < 1 || limit > maxCommentLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	var comments []model.Comment
	err := h.Sessions.WithAuthorizedClient(c.Request.Context(), key, func(rc remote.Client) error {
		var err error
		comments, err = rc.Comments(c.Request.Context(), c.Param("id"), c.Param("message_id"), limit)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
