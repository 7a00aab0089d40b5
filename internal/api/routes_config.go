package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/preferences"
)

func (s *Server) handleGetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

// handlePatchPreferences applies a partial update. Unknown mirror or
// country names are rejected and leave the preferences unchanged.
func (s *Server) handlePatchPreferences(c *gin.Context) {
	var patch preferences.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no preference fields provided"})
		return
	}

	updated, err := s.store.Apply(patch)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().
		Str("server_address", updated.ServerAddress).
		Bool("fake_supporter", updated.FakeSupporter).
		Str("beatmap_mirror", updated.BeatmapMirror.String()).
		Msg("preferences updated via API")

	s.eventBus.Publish(events.EventPreferencesChanged, "api", events.PreferencesChangedPayload{
		Source:      "api",
		Preferences: updated,
	})

	c.JSON(http.StatusOK, updated)
}
