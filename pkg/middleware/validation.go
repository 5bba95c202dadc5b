package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/voice-relay/pkg/errors"
	"github.com/troikatech/voice-relay/pkg/utils"
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateAgentParam rejects agent ids that could not have been issued by the provider.
func ValidateAgentParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := SanitizeString(c.Param(paramName))
		if !agentIDPattern.MatchString(agentID) {
			errors.BadRequest(c, "invalid "+paramName+" parameter")
			return
		}
		c.Set(paramName, agentID)
		c.Next()
	}
}

// ValidateDateParam requires a YYYY-MM-DD calendar day.
func ValidateDateParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		date := SanitizeString(c.Param(paramName))
		if !utils.ValidCallDate(date) {
			errors.BadRequest(c, "invalid "+paramName+": must be YYYY-MM-DD")
			return
		}
		c.Set(paramName, date)
		c.Next()
	}
}

// SanitizeString removes null bytes and surrounding whitespace.
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
