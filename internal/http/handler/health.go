package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoints; overridden at link time.
var Version = "1.0.0"

// Health reports process liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "Augment Token Manager is running",
		"timestamp": Timestamp(),
		"version":   Version,
	})
}
