package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osus-project/osus-proxy/internal/util"
)

const maxChatLimit = 500

// handleGetStatus reports host info, process usage, preferences, proxy
// counters and health.
func (s *Server) handleGetStatus(c *gin.Context) {
	resp := gin.H{
		"system":      util.GetSystemInfo(),
		"preferences": s.store.Snapshot(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	}

	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	} else {
		s.logger.Debug().Err(err).Msg("process usage unavailable")
	}

	if s.stats != nil {
		resp["proxy"] = s.stats.Stats()
	}
	if s.health != nil {
		resp["health"] = s.health.Report()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetChat(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat log is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxChatLimit)
	}

	messages, err := s.chat.RecentMessages(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read chat log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chat log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
