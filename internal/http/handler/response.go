package handler

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  string      `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

var now = time.Now

// Timestamp formats the current time for response bodies.
func Timestamp() string {
	return now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message, Timestamp: Timestamp()})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: false, Error: message, Timestamp: Timestamp()})
}

func respondPage(c *gin.Context, data any, page, limit, total int) {
	c.JSON(200, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: Timestamp(),
		Pagination: &Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}
