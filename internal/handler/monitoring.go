package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/monitor"
)

type MonitoringHandler struct {
	Monitors *monitor.Registry
}

type channelsBody struct {
	Channels []string `json:"channels" binding:"required,min=1"`
}

func (h *MonitoringHandler) Start(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	var body channelsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	results := h.Monitors.Start(c.Request.Context(), key, body.Channels)
	c.JSON(http.StatusOK, gin.H{"channels": body.Channels, "results": results})
}

func (h *MonitoringHandler) Stop(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	var body channelsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	results := h.Monitors.Stop(c.Request.Context(), key, body.Channels)
	c.JSON(http.StatusOK, gin.H{"channels": body.Channels, "results": results})
}

func (h *MonitoringHandler) List(c *gin.Context) {
	key, _ := middleware.SessionKeyFromContext(c)
	c.JSON(http.StatusOK, gin.H{"watches": h.Monitors.Active(key)})
}
