package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osus-project/osus-proxy/internal/protocol"
	"github.com/osus-project/osus-proxy/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
	})
}

type countryEntry struct {
	Code uint8  `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleGetCountries(c *gin.Context) {
	countries := protocol.Countries()
	out := make([]countryEntry, 0, len(countries))
	for _, country := range countries {
		out = append(out, countryEntry{Code: uint8(country), Name: country.String()})
	}
	c.JSON(http.StatusOK, gin.H{"countries": out})
}
